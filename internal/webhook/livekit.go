// ABOUTME: LiveKit webhook verification and relay of room lifecycle events to subscribers
// ABOUTME: Signatures are base64 HMAC-SHA256 over the raw body, compared in constant time

package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/frontdesk-gateway/internal/dedupe"
	"github.com/2389/frontdesk-gateway/internal/metrics"
	"github.com/2389/frontdesk-gateway/internal/notify"
)

// SignatureHeader carries the delivery signature.
const SignatureHeader = "LiveKit-Signature"

var (
	// ErrInvalidSignature is returned when a delivery cannot be authenticated.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrMalformed is returned for an authenticated body that is not a valid event.
	ErrMalformed = errors.New("malformed webhook event")
)

// LiveKit event names.
const (
	EventParticipantJoined = "room.participant_joined"
	EventParticipantLeft   = "room.participant_left"
	EventRecordingStarted  = "room.recording_started"
	EventRecordingFinished = "room.recording_finished"
)

// Sign returns the signature for body under secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against body. An empty secret or signature never verifies.
func Verify(body []byte, signature, secret string) error {
	if secret == "" || signature == "" {
		return ErrInvalidSignature
	}
	if !hmac.Equal([]byte(signature), []byte(Sign(body, secret))) {
		return ErrInvalidSignature
	}
	return nil
}

// Event is the subset of a LiveKit delivery the gateway acts on.
type Event struct {
	ID          string          `json:"id,omitempty"`
	Event       string          `json:"event"`
	Room        json.RawMessage `json:"room,omitempty"`
	Participant json.RawMessage `json:"participant,omitempty"`
	Track       json.RawMessage `json:"track,omitempty"`
	Recording   json.RawMessage `json:"recording,omitempty"`
}

// Result describes what happened to a delivery.
type Result string

const (
	ResultRelayed Result = "relayed"
	ResultIgnored Result = "ignored"
	ResultReplay  Result = "replay"
)

// Broadcaster fans events out to subscribers.
type Broadcaster interface {
	Broadcast(ctx context.Context, event notify.Event) error
}

// Receiver authenticates deliveries and relays the ones subscribers care about.
type Receiver struct {
	secret   string
	notifier Broadcaster
	replays  *dedupe.Guard
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewReceiver creates a Receiver. replays and m may be nil; pass nil logger for default.
func NewReceiver(secret string, notifier Broadcaster, replays *dedupe.Guard, m *metrics.Metrics, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		secret:   secret,
		notifier: notifier,
		replays:  replays,
		metrics:  m,
		logger:   logger.With("component", "webhook"),
	}
}

// Handle processes one delivery. Nothing is parsed or broadcast unless the
// signature verifies.
func (r *Receiver) Handle(ctx context.Context, body []byte, signature string) (Result, error) {
	if err := Verify(body, signature, r.secret); err != nil {
		r.metrics.WebhookEvent("unknown", "rejected")
		r.logger.Warn("rejected webhook with invalid signature", "bytes", len(body))
		return "", err
	}

	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		r.metrics.WebhookEvent("unknown", "malformed")
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ev.Event == "" {
		r.metrics.WebhookEvent("unknown", "malformed")
		return "", fmt.Errorf("%w: missing event name", ErrMalformed)
	}

	key := dedupe.Key(ev.ID, body)
	if r.replays != nil && r.replays.Seen(key) {
		r.metrics.WebhookEvent(ev.Event, string(ResultReplay))
		r.logger.Debug("ignoring replayed webhook", "event", ev.Event, "id", ev.ID)
		return ResultReplay, nil
	}

	relay, ok := relayFor(ev)
	if !ok {
		r.metrics.WebhookEvent(ev.Event, string(ResultIgnored))
		r.logger.Debug("ignoring webhook event", "event", ev.Event)
		return ResultIgnored, nil
	}

	if err := r.notifier.Broadcast(ctx, relay); err != nil {
		// Let the sender's retry through
		if r.replays != nil {
			r.replays.Forget(key)
		}
		r.metrics.WebhookEvent(ev.Event, "error")
		return "", fmt.Errorf("relaying %s: %w", ev.Event, err)
	}

	r.metrics.WebhookEvent(ev.Event, string(ResultRelayed))
	r.logger.Info("relayed webhook event", "event", ev.Event, "type", relay.Type)
	return ResultRelayed, nil
}

// relayFor maps a LiveKit event to the subscriber event it becomes.
func relayFor(ev Event) (notify.Event, bool) {
	var eventType string
	data := map[string]json.RawMessage{}
	if len(ev.Room) > 0 {
		data["room"] = ev.Room
	}

	switch ev.Event {
	case EventParticipantJoined, EventParticipantLeft:
		eventType = notify.EventParticipantJoined
		if ev.Event == EventParticipantLeft {
			eventType = notify.EventParticipantLeft
		}
		if len(ev.Participant) > 0 {
			data["participant"] = ev.Participant
		}
	case EventRecordingStarted, EventRecordingFinished:
		eventType = notify.EventRecordingStarted
		if ev.Event == EventRecordingFinished {
			eventType = notify.EventRecordingFinished
		}
		if len(ev.Recording) > 0 {
			data["recording"] = ev.Recording
		}
	default:
		return notify.Event{}, false
	}

	return notify.Event{Type: eventType, Data: data}, true
}
