package hmr

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultAckTimeout is how long a dispatched reload may wait for its ack.
const DefaultAckTimeout = 15 * time.Second

// timeoutError is the synthesized ack error for unanswered dispatches.
const timeoutError = "Timed out waiting for runtime ACK"

// BroadcastFunc fans a reload message out to connected runtimes and returns
// the number of receivers.
type BroadcastFunc func(msg ReloadMessage) int

// controlQueue is the per-control dispatch state.
//
// Invariants: at most one message is active per control; pending holds at
// most one message and is overwritten on enqueue (latest wins); a timer is
// armed iff current is non-nil.
type controlQueue struct {
	active  bool
	current *ReloadMessage
	pending *ReloadMessage
	timer   *time.Timer
}

// Dispatcher owns the per-control queues and the last-ack records.
//
// All state transitions run under one mutex, so handler invocations (HTTP
// request, WebSocket ack, timeout fire) are serialized as the control plane
// requires.
type Dispatcher struct {
	mu      sync.Mutex
	queues  map[string]*controlQueue
	lastAck map[string]ReloadAck
	seq     int64
	closed  bool

	// ackTimeout is DefaultAckTimeout in production; tests shorten it.
	ackTimeout time.Duration

	// broadcast sends a dispatch to every connected runtime.
	broadcast BroadcastFunc
}

// NewDispatcher creates a dispatcher that fans dispatches out via broadcast.
//
// Parameters:
//   - broadcast: Fan-out function, called with the queue lock held
//
// Returns:
//   - *Dispatcher: A new dispatcher instance
func NewDispatcher(broadcast BroadcastFunc) *Dispatcher {
	return &Dispatcher{
		queues:     make(map[string]*controlQueue),
		lastAck:    make(map[string]ReloadAck),
		ackTimeout: DefaultAckTimeout,
		broadcast:  broadcast,
	}
}

// SetAckTimeout overrides the ack timeout. Intended for tests; the
// wire-visible behavior is unchanged.
func (d *Dispatcher) SetAckTimeout(timeout time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ackTimeout = timeout
}

// EnqueueReload queues a reload for dispatch, overwriting any pending reload
// for the same control.
//
// Parameters:
//   - req: The normalized reload request
//
// Returns:
//   - ReloadMessage: The enqueued message with its assigned id
func (d *Dispatcher) EnqueueReload(req ReloadRequest) ReloadMessage {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().UnixMilli()
	d.seq++
	msg := ReloadMessage{
		Id:           fmt.Sprintf("r-%d-%d", now, d.seq),
		ControlName:  req.ControlName,
		BuildId:      req.BuildId,
		Trigger:      req.Trigger,
		ChangedFiles: req.ChangedFiles,
		Timestamp:    now,
	}

	q := d.queueFor(msg.ControlName)
	q.pending = &msg
	d.processQueue(msg.ControlName)
	return msg
}

// CompleteAck records an ack and, when it matches the active dispatch,
// drains the queue.
//
// A stale ack (id other than the active dispatch) still replaces the
// per-control record so /last-ack observes the most recent report.
//
// Parameters:
//   - ack: The validated ack
func (d *Dispatcher) CompleteAck(ack ReloadAck) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastAck[ack.ControlName] = ack

	q := d.queues[ack.ControlName]
	if q == nil || !q.active {
		log.Debug("Ack with no active reload", "id", ack.Id, "control", ack.ControlName)
		return
	}
	if q.current == nil || q.current.Id != ack.Id {
		log.Warn("Stale ack ignored", "id", ack.Id, "control", ack.ControlName)
		return
	}

	d.clearCurrent(q)
	log.Info("Reload acknowledged",
		"control", ack.ControlName,
		"build", ack.BuildId,
		"status", ack.Status,
		"instances", fmt.Sprintf("%d/%d", ack.InstancesReloaded, ack.InstancesTotal),
		"duration", fmt.Sprintf("%dms", ack.DurationMs),
	)
	d.processQueue(ack.ControlName)
}

// LastAcks returns a copy of the per-control last-ack records.
func (d *Dispatcher) LastAcks() map[string]ReloadAck {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]ReloadAck, len(d.lastAck))
	for name, ack := range d.lastAck {
		out[name] = ack
	}
	return out
}

// Close cancels every outstanding timeout. Enqueues after Close are dropped.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	for _, q := range d.queues {
		d.clearCurrent(q)
		q.pending = nil
	}
}

// queueFor returns the queue for a control, creating it on first use.
// Caller must hold d.mu.
func (d *Dispatcher) queueFor(controlName string) *controlQueue {
	q := d.queues[controlName]
	if q == nil {
		q = &controlQueue{}
		d.queues[controlName] = q
	}
	return q
}

// processQueue promotes a pending message to current and dispatches it.
// Caller must hold d.mu.
func (d *Dispatcher) processQueue(controlName string) {
	q := d.queueFor(controlName)
	if d.closed || q.active || q.pending == nil {
		return
	}

	msg := q.pending
	q.pending = nil
	q.current = msg
	q.active = true

	receivers := 0
	if d.broadcast != nil {
		receivers = d.broadcast(*msg)
	}
	log.Info("Dispatched reload", "id", msg.Id, "build", msg.BuildId, "clients", receivers)

	id := msg.Id
	name := controlName
	q.timer = time.AfterFunc(d.ackTimeout, func() {
		d.onTimeout(name, id)
	})
}

// onTimeout synthesizes a failed ack for a dispatch that never answered.
func (d *Dispatcher) onTimeout(controlName, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[controlName]
	// A late fire after the ack arrived (or after a newer dispatch) is a no-op.
	if q == nil || q.current == nil || q.current.Id != id {
		return
	}

	msg := q.current
	ack := ReloadAck{
		Id:          msg.Id,
		ControlName: msg.ControlName,
		BuildId:     msg.BuildId,
		Status:      AckStatusFailed,
		Error:       timeoutError,
		Timestamp:   time.Now().UnixMilli(),
	}
	d.lastAck[msg.ControlName] = ack
	log.Warn("Reload timed out", "id", msg.Id, "control", msg.ControlName)

	d.clearCurrent(q)
	d.processQueue(controlName)
}

// clearCurrent disarms the timer and returns the queue to idle.
// Caller must hold d.mu.
func (d *Dispatcher) clearCurrent(q *controlQueue) {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.current = nil
	q.active = false
}
