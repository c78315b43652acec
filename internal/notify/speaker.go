// ABOUTME: Speech delivery through the caller's own subscriber connection
// ABOUTME: The conversation agent on that connection renders the text to audio

package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/frontdesk-gateway/internal/store"
)

// ErrNoSession is returned when a caller has no session to speak to.
var ErrNoSession = errors.New("caller has no session id")

// SessionSpeaker sends speak events to the connections registered for a caller session.
type SessionSpeaker struct {
	notifier *Notifier
}

// NewSessionSpeaker creates a SessionSpeaker over n.
func NewSessionSpeaker(n *Notifier) *SessionSpeaker {
	return &SessionSpeaker{notifier: n}
}

// Speak queues text for the caller's session. It fails with
// store.ErrUpstreamUnavailable when no connection for the session is live.
func (s *SessionSpeaker) Speak(ctx context.Context, caller store.CallerContext, requestID, text string) error {
	if caller.SessionID == "" {
		return ErrNoSession
	}

	n, err := s.notifier.SendTo(ctx, caller.SessionID, Event{
		Type: EventSpeak,
		Data: SpeakPayload{SessionID: caller.SessionID, RequestID: requestID, Text: text},
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: no live connection for session %s", store.ErrUpstreamUnavailable, caller.SessionID)
	}
	return nil
}
