// ABOUTME: Escalation registry owning the pending -> resolved lifecycle of help requests
// ABOUTME: Records requests durably before returning them and guards against double resolution

package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/frontdesk-gateway/internal/store"
)

// ErrEmptyQuestion is returned when Create is called without a question.
var ErrEmptyQuestion = errors.New("question is required")

// ErrEmptyResponse is returned when Resolve is called without a response.
var ErrEmptyResponse = errors.New("supervisor response is required")

// Registry is the exclusive owner of help request state.
type Registry struct {
	store  store.HelpRequestStore
	now    func() time.Time
	logger *slog.Logger
}

// NewRegistry creates a Registry. Pass nil logger for default.
func NewRegistry(s store.HelpRequestStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  s,
		now:    time.Now,
		logger: logger.With("component", "escalation"),
	}
}

// Create records a pending help request. The request is persisted before it
// is returned; a persistence failure is wrapped in store.ErrUpstreamUnavailable.
func (r *Registry) Create(ctx context.Context, question string, caller store.CallerContext) (*store.HelpRequest, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	now := r.now().UTC()
	if caller.Timestamp.IsZero() {
		caller.Timestamp = now
	}

	req := &store.HelpRequest{
		ID:        uuid.New().String(),
		Question:  question,
		Context:   describeCaller(caller),
		Caller:    caller,
		Status:    store.HelpRequestPending,
		CreatedAt: now,
	}

	if err := r.store.CreateHelpRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("%w: recording help request: %v", store.ErrUpstreamUnavailable, err)
	}

	r.logger.Info("help request created", "id", req.ID, "question", question, "track_id", caller.TrackID)
	return req, nil
}

// Resolve moves a pending request to resolved and returns the updated record.
// Returns store.ErrNotFound or store.ErrAlreadyResolved unchanged; any other
// failure is wrapped in store.ErrUpstreamUnavailable.
func (r *Registry) Resolve(ctx context.Context, id, response, resolvedBy string) (*store.HelpRequest, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return nil, ErrEmptyResponse
	}

	req, err := r.store.ResolveHelpRequest(ctx, id, response, resolvedBy, r.now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrAlreadyResolved) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: resolving help request: %v", store.ErrUpstreamUnavailable, err)
	}

	r.logger.Info("help request resolved", "id", id, "resolved_by", resolvedBy)
	return req, nil
}

// Get returns a request without modifying it.
func (r *Registry) Get(ctx context.Context, id string) (*store.HelpRequest, error) {
	return r.store.GetHelpRequest(ctx, id)
}

// List returns requests newest first; an empty status returns all of them.
func (r *Registry) List(ctx context.Context, status store.HelpRequestStatus) ([]*store.HelpRequest, error) {
	return r.store.ListHelpRequests(ctx, status)
}

// describeCaller renders the human-readable context shown to supervisors.
func describeCaller(c store.CallerContext) string {
	switch {
	case c.TrackID != "":
		return "Call from track " + c.TrackID
	case c.SessionID != "":
		return "Call from session " + c.SessionID
	default:
		return "Call from unknown caller"
	}
}
