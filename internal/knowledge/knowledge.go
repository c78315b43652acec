// ABOUTME: Two-tier knowledge service with the trust policy for learned answers
// ABOUTME: Predefined entries always win; learned entries must be verified or clear both thresholds

package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/frontdesk-gateway/internal/metrics"
	"github.com/2389/frontdesk-gateway/internal/store"
)

// Trust thresholds for unverified learned entries. Both comparisons are strict.
const (
	MinConfidence  = 0.8
	MinSuccessRate = 0.8
)

// FeedbackWeight is the step size of the success-rate moving average.
const FeedbackWeight = 0.2

// usageTimeout bounds the best-effort usage write after a learned hit.
const usageTimeout = 2 * time.Second

// ErrInvalidEntry is returned when an entry fails boundary validation.
var ErrInvalidEntry = errors.New("invalid knowledge entry")

// Answer is a knowledge hit.
type Answer struct {
	EntryID    string
	Tier       store.Tier
	Question   string
	Text       string
	Confidence float64
}

// Trusted reports whether a learned entry may be served automatically.
func Trusted(e *store.KnowledgeEntry) bool {
	if e.Verified {
		return true
	}
	return e.Confidence > MinConfidence && e.SuccessRate > MinSuccessRate
}

// Store is the only writer of knowledge entries.
type Store struct {
	backend store.KnowledgeStore
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a knowledge Store. Pass nil logger for default; m may be nil.
func New(backend store.KnowledgeStore, m *metrics.Metrics, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend: backend,
		metrics: m,
		logger:  logger.With("component", "knowledge"),
	}
}

// Lookup finds a trusted answer for question. The bool is false on a miss.
// A store failure is returned wrapped in store.ErrUpstreamUnavailable.
func (s *Store) Lookup(ctx context.Context, question string) (Answer, bool, error) {
	norm := store.NormalizeQuestion(question)
	if norm == "" {
		s.metrics.Lookup(metrics.OutcomeMiss)
		return Answer{}, false, nil
	}

	entry, err := s.backend.FindKnowledgeEntry(ctx, store.TierPredefined, norm)
	switch {
	case err == nil:
		s.metrics.Lookup(metrics.OutcomePredefined)
		return answerFrom(entry), true, nil
	case !errors.Is(err, store.ErrNotFound):
		s.metrics.Lookup(metrics.OutcomeError)
		return Answer{}, false, fmt.Errorf("%w: predefined lookup: %v", store.ErrUpstreamUnavailable, err)
	}

	entry, err = s.backend.FindKnowledgeEntry(ctx, store.TierLearned, norm)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.metrics.Lookup(metrics.OutcomeMiss)
		return Answer{}, false, nil
	case err != nil:
		s.metrics.Lookup(metrics.OutcomeError)
		return Answer{}, false, fmt.Errorf("%w: learned lookup: %v", store.ErrUpstreamUnavailable, err)
	}

	if !Trusted(entry) {
		s.logger.Debug("learned entry below trust threshold",
			"id", entry.ID,
			"confidence", entry.Confidence,
			"success_rate", entry.SuccessRate,
		)
		s.metrics.Lookup(metrics.OutcomeUntrusted)
		return Answer{}, false, nil
	}

	s.recordUsage(ctx, entry.ID)
	s.metrics.Lookup(metrics.OutcomeLearned)
	return answerFrom(entry), true, nil
}

// recordUsage bumps times_used; failures are logged and swallowed.
func (s *Store) recordUsage(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), usageTimeout)
	defer cancel()

	if err := s.backend.IncrementTimesUsed(ctx, store.TierLearned, id); err != nil {
		s.logger.Warn("failed to record knowledge usage", "id", id, "error", err)
	}
}

func answerFrom(e *store.KnowledgeEntry) Answer {
	return Answer{
		EntryID:    e.ID,
		Tier:       e.Tier,
		Question:   e.Question,
		Text:       e.Answer,
		Confidence: e.Confidence,
	}
}

// Insert validates and stores a new entry, returning its id.
// Predefined entries are always stored with confidence 1.0 and verified.
func (s *Store) Insert(ctx context.Context, tier store.Tier, entry store.KnowledgeEntry) (string, error) {
	if !tier.Valid() {
		return "", fmt.Errorf("%w: unknown tier %q", ErrInvalidEntry, tier)
	}
	entry.Question = strings.TrimSpace(entry.Question)
	entry.Answer = strings.TrimSpace(entry.Answer)
	if err := validate(entry.Question, entry.Answer, entry.Confidence); err != nil {
		return "", err
	}

	entry.Tier = tier
	entry.ID = uuid.New().String()
	entry.QuestionNorm = store.NormalizeQuestion(entry.Question)
	entry.CreatedAt = time.Now().UTC()
	entry.UpdatedAt = entry.CreatedAt

	switch tier {
	case store.TierPredefined:
		entry.Confidence = 1.0
		entry.Verified = true
		entry.TimesUsed = 0
		entry.SuccessRate = 1.0
		entry.SourceRequestID = ""
		entry.SupervisorID = ""
	case store.TierLearned:
		if entry.SuccessRate < 0 || entry.SuccessRate > 1 {
			return "", fmt.Errorf("%w: success_rate must be within [0,1]", ErrInvalidEntry)
		}
		if entry.TimesUsed < 0 {
			return "", fmt.Errorf("%w: times_used must not be negative", ErrInvalidEntry)
		}
	}

	if err := s.backend.CreateKnowledgeEntry(ctx, &entry); err != nil {
		return "", err
	}

	s.logger.Info("knowledge entry added", "id", entry.ID, "tier", tier, "question", entry.Question)
	return entry.ID, nil
}

// UpdateUsage applies a partial bookkeeping update.
func (s *Store) UpdateUsage(ctx context.Context, tier store.Tier, id string, update store.UsageUpdate) error {
	if update.TimesUsed != nil && *update.TimesUsed < 0 {
		return fmt.Errorf("%w: times_used must not be negative", ErrInvalidEntry)
	}
	if update.SuccessRate != nil && !inUnitRange(*update.SuccessRate) {
		return fmt.Errorf("%w: success_rate must be within [0,1]", ErrInvalidEntry)
	}
	if update.Confidence != nil && !inUnitRange(*update.Confidence) {
		return fmt.Errorf("%w: confidence must be within [0,1]", ErrInvalidEntry)
	}
	return s.backend.UpdateKnowledgeUsage(ctx, tier, id, update)
}

// MarkVerified sets the verified flag of an entry.
func (s *Store) MarkVerified(ctx context.Context, tier store.Tier, id string, verified bool) error {
	if err := s.backend.SetKnowledgeVerified(ctx, tier, id, verified); err != nil {
		return err
	}
	s.logger.Info("knowledge entry verification changed", "id", id, "tier", tier, "verified", verified)
	return nil
}

// Get returns a single entry.
func (s *Store) Get(ctx context.Context, tier store.Tier, id string) (*store.KnowledgeEntry, error) {
	return s.backend.GetKnowledgeEntry(ctx, tier, id)
}

// List returns entries of a tier whose question contains query.
func (s *Store) List(ctx context.Context, tier store.Tier, query string) ([]*store.KnowledgeEntry, error) {
	return s.backend.ListKnowledgeEntries(ctx, tier, query)
}

// UpdateContent replaces the curated question, answer and confidence of an entry.
func (s *Store) UpdateContent(ctx context.Context, tier store.Tier, id string, update store.ContentUpdate) error {
	update.Question = strings.TrimSpace(update.Question)
	update.Answer = strings.TrimSpace(update.Answer)
	if err := validate(update.Question, update.Answer, update.Confidence); err != nil {
		return err
	}
	if tier == store.TierPredefined {
		update.Confidence = 1.0
	}
	return s.backend.UpdateKnowledgeContent(ctx, tier, id, update)
}

// Delete removes an entry. This is an administrative path only.
func (s *Store) Delete(ctx context.Context, tier store.Tier, id string) error {
	if err := s.backend.DeleteKnowledgeEntry(ctx, tier, id); err != nil {
		return err
	}
	s.logger.Info("knowledge entry deleted", "id", id, "tier", tier)
	return nil
}

// RecordFeedback moves a learned entry's success rate toward 1 (helpful) or 0
// by FeedbackWeight and returns the updated entry.
// Concurrent feedback on one entry may lose an update.
func (s *Store) RecordFeedback(ctx context.Context, id string, helpful bool) (*store.KnowledgeEntry, error) {
	entry, err := s.backend.GetKnowledgeEntry(ctx, store.TierLearned, id)
	if err != nil {
		return nil, err
	}

	target := 0.0
	if helpful {
		target = 1.0
	}
	rate := entry.SuccessRate + FeedbackWeight*(target-entry.SuccessRate)
	rate = min(max(rate, 0), 1)

	if err := s.backend.UpdateKnowledgeUsage(ctx, store.TierLearned, id, store.UsageUpdate{SuccessRate: &rate}); err != nil {
		return nil, err
	}
	entry.SuccessRate = rate

	s.logger.Debug("recorded feedback", "id", id, "helpful", helpful, "success_rate", rate)
	return entry, nil
}

func validate(question, answer string, confidence float64) error {
	if question == "" {
		return fmt.Errorf("%w: question is required", ErrInvalidEntry)
	}
	if answer == "" {
		return fmt.Errorf("%w: answer is required", ErrInvalidEntry)
	}
	if !inUnitRange(confidence) {
		return fmt.Errorf("%w: confidence must be within [0,1]", ErrInvalidEntry)
	}
	return nil
}

func inUnitRange(f float64) bool {
	return f >= 0 && f <= 1
}
