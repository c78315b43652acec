// ABOUTME: Wire shapes of the events pushed to subscribers
// ABOUTME: Every frame is {"type": ..., "data": ...} encoded as JSON text

package notify

import (
	"encoding/json"
	"time"

	"github.com/2389/frontdesk-gateway/internal/store"
)

// Event types sent to subscribers.
const (
	EventNewRequest         = "new_request"
	EventSupervisorResponse = "supervisor_response"
	EventParticipantJoined  = "participant_joined"
	EventParticipantLeft    = "participant_left"
	EventRecordingStarted   = "recording_started"
	EventRecordingFinished  = "recording_finished"
	EventSpeak              = "speak"
	EventError              = "error"
)

// Event is one frame on the subscriber channel.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// HelpRequestPayload is the JSON view of a help request.
type HelpRequestPayload struct {
	ID                 string              `json:"id"`
	Question           string              `json:"question"`
	Context            string              `json:"context,omitempty"`
	CallerDetails      store.CallerContext `json:"caller_details"`
	Status             string              `json:"status"`
	SupervisorResponse string              `json:"supervisor_response,omitempty"`
	ResolvedBy         string              `json:"resolved_by,omitempty"`
	CreatedAt          string              `json:"created_at"`
	ResolvedAt         string              `json:"resolved_at,omitempty"`
}

// SupervisorResponsePayload is the data of a supervisor_response event.
type SupervisorResponsePayload struct {
	RequestID string `json:"request_id"`
	Response  string `json:"response"`
	Question  string `json:"question"`
}

// SpeakPayload asks a caller session to say text aloud.
type SpeakPayload struct {
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id,omitempty"`
	Text      string `json:"text"`
}

// ErrorPayload reports a failed inbound command back to its sender.
type ErrorPayload struct {
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error"`
}

// NewHelpRequestPayload converts a stored request to its JSON view.
func NewHelpRequestPayload(req *store.HelpRequest) HelpRequestPayload {
	p := HelpRequestPayload{
		ID:                 req.ID,
		Question:           req.Question,
		Context:            req.Context,
		CallerDetails:      req.Caller,
		Status:             string(req.Status),
		SupervisorResponse: req.SupervisorResponse,
		ResolvedBy:         req.ResolvedBy,
		CreatedAt:          req.CreatedAt.UTC().Format(time.RFC3339),
	}
	if req.ResolvedAt != nil {
		p.ResolvedAt = req.ResolvedAt.UTC().Format(time.RFC3339)
	}
	return p
}

// NewRequestEvent announces a freshly created help request.
func NewRequestEvent(req *store.HelpRequest) Event {
	return Event{Type: EventNewRequest, Data: NewHelpRequestPayload(req)}
}

// SupervisorResponseEvent announces a resolution.
func SupervisorResponseEvent(req *store.HelpRequest) Event {
	return Event{Type: EventSupervisorResponse, Data: SupervisorResponsePayload{
		RequestID: req.ID,
		Response:  req.SupervisorResponse,
		Question:  req.Question,
	}}
}

// RelayEvent wraps an externally sourced payload without interpreting it.
func RelayEvent(eventType string, data json.RawMessage) Event {
	return Event{Type: eventType, Data: data}
}
