package hmr

import (
	"strings"
	"sync"
	"testing"
	"time"
)

// broadcastRecorder captures dispatched messages in order.
type broadcastRecorder struct {
	mu   sync.Mutex
	msgs []ReloadMessage
}

func (r *broadcastRecorder) record(msg ReloadMessage) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return 1
}

func (r *broadcastRecorder) all() []ReloadMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ReloadMessage, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *broadcastRecorder) {
	t.Helper()
	rec := &broadcastRecorder{}
	d := NewDispatcher(rec.record)
	t.Cleanup(d.Close)
	return d, rec
}

func ackFor(msg ReloadMessage) ReloadAck {
	return ReloadAck{
		Id:                msg.Id,
		ControlName:       msg.ControlName,
		BuildId:           msg.BuildId,
		Status:            AckStatusSuccess,
		InstancesTotal:    1,
		InstancesReloaded: 1,
		DurationMs:        10,
		Timestamp:         time.Now().UnixMilli(),
	}
}

func TestDispatcher_LatestWins(t *testing.T) {
	d, rec := newTestDispatcher(t)

	first := d.EnqueueReload(ReloadRequest{ControlName: "cc_A.B", BuildId: "b1", Trigger: "manual"})
	d.EnqueueReload(ReloadRequest{ControlName: "cc_A.B", BuildId: "b2", Trigger: "manual"})
	d.EnqueueReload(ReloadRequest{ControlName: "cc_A.B", BuildId: "b3", Trigger: "manual"})

	msgs := rec.all()
	if len(msgs) != 1 {
		t.Fatalf("broadcasts = %d, want exactly 1 while first dispatch is active", len(msgs))
	}
	if msgs[0].BuildId != "b1" {
		t.Fatalf("dispatched build = %q, want b1", msgs[0].BuildId)
	}

	// Acking the active dispatch drains the pending slot: b2 was overwritten.
	d.CompleteAck(ackFor(first))

	msgs = rec.all()
	if len(msgs) != 2 {
		t.Fatalf("broadcasts = %d, want 2 after ack", len(msgs))
	}
	if msgs[1].BuildId != "b3" {
		t.Fatalf("second dispatch build = %q, want b3 (b2 dropped)", msgs[1].BuildId)
	}
}

func TestDispatcher_AckReturnsQueueToIdle(t *testing.T) {
	d, rec := newTestDispatcher(t)

	msg := d.EnqueueReload(ReloadRequest{ControlName: "cc_A.B", BuildId: "b1"})
	d.CompleteAck(ackFor(msg))

	d.EnqueueReload(ReloadRequest{ControlName: "cc_A.B", BuildId: "b2"})
	if got := len(rec.all()); got != 2 {
		t.Fatalf("broadcasts = %d, want immediate dispatch on idle queue", got)
	}
}

func TestDispatcher_StaleAckKeepsRecordWithoutDispatch(t *testing.T) {
	d, rec := newTestDispatcher(t)

	msg := d.EnqueueReload(ReloadRequest{ControlName: "cc_A.B", BuildId: "b1"})
	first := ackFor(msg)
	d.CompleteAck(first)

	// Re-sending the same id after the queue went idle is stale, but the
	// record write still wins for observability.
	stale := first
	stale.Timestamp = first.Timestamp + 1000
	d.CompleteAck(stale)

	if got := len(rec.all()); got != 1 {
		t.Fatalf("broadcasts = %d, stale ack must not dispatch", got)
	}
	if d.LastAcks()["cc_A.B"].Timestamp != stale.Timestamp {
		t.Fatal("last ack must reflect the stale ack's record (last write wins)")
	}
}

func TestDispatcher_MismatchedAckIdKeepsQueueActive(t *testing.T) {
	d, rec := newTestDispatcher(t)

	msg := d.EnqueueReload(ReloadRequest{ControlName: "cc_A.B", BuildId: "b1"})

	bogus := ackFor(msg)
	bogus.Id = "r-0-999"
	d.CompleteAck(bogus)

	if d.LastAcks()["cc_A.B"].Id != "r-0-999" {
		t.Fatal("mismatched ack must still be recorded")
	}

	// The real ack still drains the queue afterwards.
	d.EnqueueReload(ReloadRequest{ControlName: "cc_A.B", BuildId: "b2"})
	d.CompleteAck(ackFor(msg))
	msgs := rec.all()
	if len(msgs) != 2 || msgs[1].BuildId != "b2" {
		t.Fatalf("broadcasts = %v, want b2 dispatched after the genuine ack", msgs)
	}
}

func TestDispatcher_TimeoutSynthesizesFailedAck(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.SetAckTimeout(20 * time.Millisecond)

	d.EnqueueReload(ReloadRequest{ControlName: "cc_Test.Control", BuildId: "b1"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		if ack, ok := d.LastAcks()["cc_Test.Control"]; ok {
			if ack.Status != AckStatusFailed {
				t.Fatalf("status = %q, want failed", ack.Status)
			}
			if ack.Error != "Timed out waiting for runtime ACK" {
				t.Fatalf("error = %q", ack.Error)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the synthesized ack")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDispatcher_TimeoutDrainsPending(t *testing.T) {
	d, rec := newTestDispatcher(t)
	d.SetAckTimeout(20 * time.Millisecond)

	d.EnqueueReload(ReloadRequest{ControlName: "cc_A.B", BuildId: "b1"})
	d.EnqueueReload(ReloadRequest{ControlName: "cc_A.B", BuildId: "b2"})

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.all()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("broadcasts = %d, want pending b2 dispatched after timeout", len(rec.all()))
		}
		time.Sleep(5 * time.Millisecond)
	}
	if rec.all()[1].BuildId != "b2" {
		t.Fatalf("second dispatch = %q, want b2", rec.all()[1].BuildId)
	}
}

func TestDispatcher_IndependentControls(t *testing.T) {
	d, rec := newTestDispatcher(t)

	d.EnqueueReload(ReloadRequest{ControlName: "cc_A.B", BuildId: "a"})
	d.EnqueueReload(ReloadRequest{ControlName: "cc_C.D", BuildId: "c"})

	if got := len(rec.all()); got != 2 {
		t.Fatalf("broadcasts = %d, controls must not serialize against each other", got)
	}
}

func TestDispatcher_IdFormatAndMonotonicity(t *testing.T) {
	d, _ := newTestDispatcher(t)

	a := d.EnqueueReload(ReloadRequest{ControlName: "cc_A.B", BuildId: "1"})
	b := d.EnqueueReload(ReloadRequest{ControlName: "cc_C.D", BuildId: "2"})

	for _, msg := range []ReloadMessage{a, b} {
		if !strings.HasPrefix(msg.Id, "r-") {
			t.Fatalf("id %q missing r- prefix", msg.Id)
		}
		if msg.Timestamp == 0 {
			t.Fatal("timestamp must be set at enqueue")
		}
	}
	if a.Id >= b.Id && !strings.HasSuffix(b.Id, "-2") {
		t.Fatalf("ids must be monotonic: %q then %q", a.Id, b.Id)
	}
}

func TestDispatcher_CloseStopsDispatch(t *testing.T) {
	rec := &broadcastRecorder{}
	d := NewDispatcher(rec.record)

	d.EnqueueReload(ReloadRequest{ControlName: "cc_A.B", BuildId: "b1"})
	d.Close()

	d.EnqueueReload(ReloadRequest{ControlName: "cc_A.B", BuildId: "b2"})
	time.Sleep(50 * time.Millisecond)
	if got := len(rec.all()); got != 1 {
		t.Fatalf("broadcasts = %d, enqueue after Close must not dispatch", got)
	}
}
