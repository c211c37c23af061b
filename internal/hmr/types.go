// Package hmr implements the hot-reload control plane.
//
// The control plane is a local HTTP listener that accepts reload requests
// from build tooling, fans them out to connected in-page runtimes over
// WebSocket, and tracks acknowledgements with a per-control latest-wins
// queue.
package hmr

import (
	"errors"
	"strings"
	"time"
)

// Frame type identifiers shared with the in-page runtime.
const (
	// ReloadFrameType marks an outbound reload dispatch.
	ReloadFrameType = "pcf-hmr:reload"

	// AckFrameType marks an inbound acknowledgement.
	AckFrameType = "pcf-hmr:ack"
)

// Ack statuses reported by the in-page runtime.
const (
	AckStatusSuccess = "success"
	AckStatusPartial = "partial"
	AckStatusFailed  = "failed"
)

// ReloadRequest is the external input to the control plane, posted by build
// tooling or the reload subcommand.
type ReloadRequest struct {
	// ControlName is the dotted control identifier.
	ControlName string `json:"controlName"`

	// BuildId labels the build being pushed.
	BuildId string `json:"buildId"`

	// Trigger is a free-form label for what caused the reload.
	Trigger string `json:"trigger"`

	// ChangedFiles is optional metadata with no semantic effect.
	ChangedFiles []string `json:"changedFiles,omitempty"`
}

// ReloadMessage is a queued reload with its process-unique id and enqueue
// timestamp. This is the payload broadcast to connected runtimes.
type ReloadMessage struct {
	// Id is unique per process, format "r-<epochMs>-<seq>", monotonic.
	Id string `json:"id"`

	// ControlName is the dotted control identifier.
	ControlName string `json:"controlName"`

	// BuildId labels the build being pushed.
	BuildId string `json:"buildId"`

	// Trigger is a free-form label for what caused the reload.
	Trigger string `json:"trigger"`

	// ChangedFiles is optional metadata carried through from the request.
	ChangedFiles []string `json:"changedFiles,omitempty"`

	// Timestamp is epoch milliseconds at enqueue.
	Timestamp int64 `json:"timestamp"`
}

// ReloadAck reports the outcome of one reload attempt in the page.
type ReloadAck struct {
	// Id is the dispatched message id being acknowledged.
	Id string `json:"id"`

	// ControlName is the dotted control identifier.
	ControlName string `json:"controlName"`

	// BuildId is the build the runtime applied.
	BuildId string `json:"buildId"`

	// Status is one of success, partial, failed.
	Status string `json:"status"`

	// InstancesTotal is the number of live instances before the reload.
	InstancesTotal int `json:"instancesTotal"`

	// InstancesReloaded is the number of instances re-initialized.
	InstancesReloaded int `json:"instancesReloaded"`

	// DurationMs is the runtime-measured reload duration.
	DurationMs int `json:"durationMs"`

	// Error is populated when Status is failed.
	Error string `json:"error,omitempty"`

	// Timestamp is epoch milliseconds at receipt, set server-side.
	Timestamp int64 `json:"timestamp"`
}

// Coercion errors for ack validation.
var (
	errAckMissingFields = errors.New("ACK missing required fields")
	errAckInvalidStatus = errors.New("Invalid ACK status")
)

// ToReloadRequest coerces a decoded JSON body into a ReloadRequest.
//
// Non-object bodies are treated as empty. Missing or blank fields fall back
// to the configured control name, an ISO timestamp build id and the "manual"
// trigger. changedFiles is kept only when the input is an array, filtered to
// its string elements.
//
// Parameters:
//   - body: The decoded JSON body (any shape)
//   - fallbackControlName: Control name to use when the body has none
//
// Returns:
//   - ReloadRequest: The normalized request
func ToReloadRequest(body interface{}, fallbackControlName string) ReloadRequest {
	obj, ok := body.(map[string]interface{})
	if !ok {
		obj = map[string]interface{}{}
	}

	req := ReloadRequest{
		ControlName: stringField(obj, "controlName", fallbackControlName),
		BuildId:     stringField(obj, "buildId", time.Now().UTC().Format(time.RFC3339)),
		Trigger:     stringField(obj, "trigger", "manual"),
	}

	if raw, ok := obj["changedFiles"].([]interface{}); ok {
		files := make([]string, 0, len(raw))
		for _, item := range raw {
			if s, ok := item.(string); ok {
				files = append(files, s)
			}
		}
		req.ChangedFiles = files
	}

	return req
}

// ToReloadAck validates a decoded JSON body as a ReloadAck.
//
// id, controlName and buildId must be strings and status must be a known
// value. Numeric fields default to 0; error is accepted only as a string.
// The timestamp is always the server's receipt time.
//
// Parameters:
//   - body: The decoded JSON body (any shape)
//
// Returns:
//   - ReloadAck: The validated ack
//   - error: Validation failure
func ToReloadAck(body interface{}) (ReloadAck, error) {
	obj, ok := body.(map[string]interface{})
	if !ok {
		return ReloadAck{}, errAckMissingFields
	}

	id, okId := obj["id"].(string)
	controlName, okControl := obj["controlName"].(string)
	buildId, okBuild := obj["buildId"].(string)
	if !okId || !okControl || !okBuild {
		return ReloadAck{}, errAckMissingFields
	}

	status, _ := obj["status"].(string)
	switch status {
	case AckStatusSuccess, AckStatusPartial, AckStatusFailed:
	default:
		return ReloadAck{}, errAckInvalidStatus
	}

	ack := ReloadAck{
		Id:                id,
		ControlName:       controlName,
		BuildId:           buildId,
		Status:            status,
		InstancesTotal:    intField(obj, "instancesTotal"),
		InstancesReloaded: intField(obj, "instancesReloaded"),
		DurationMs:        intField(obj, "durationMs"),
		Timestamp:         time.Now().UnixMilli(),
	}
	if errMsg, ok := obj["error"].(string); ok {
		ack.Error = errMsg
	}
	return ack, nil
}

// stringField returns the trimmed string at key, or fallback when the value
// is absent, non-string or blank.
func stringField(obj map[string]interface{}, key, fallback string) string {
	if s, ok := obj[key].(string); ok {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

// intField returns the number at key as an int, or 0 when absent or
// non-numeric. JSON numbers decode as float64.
func intField(obj map[string]interface{}, key string) int {
	if f, ok := obj[key].(float64); ok {
		return int(f)
	}
	return 0
}
