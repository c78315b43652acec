// ABOUTME: Store interface and data types for frontdesk-gateway persistence
// ABOUTME: Defines knowledge entries, help requests, and the sentinel errors shared by all backends

package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateKey is returned when a question already exists in the target tier
var ErrDuplicateKey = errors.New("duplicate key")

// ErrAlreadyResolved is returned when resolving a help request that is no longer pending
var ErrAlreadyResolved = errors.New("already resolved")

// ErrUpstreamUnavailable marks failures of a collaborator the caller cannot fix:
// the database, the LLM, or the speech channel.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// Tier names a knowledge tier.
type Tier string

const (
	TierPredefined Tier = "predefined"
	TierLearned    Tier = "learned"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierPredefined || t == TierLearned
}

// ParseTier converts a path segment such as "learned" into a Tier.
func ParseTier(s string) (Tier, bool) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	return t, t.Valid()
}

// NormalizeQuestion case-folds a question and collapses whitespace runs.
// Two questions are the same key iff their normalized forms are equal.
func NormalizeQuestion(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// KnowledgeEntry is a question/answer pair in one tier.
// TimesUsed, SuccessRate, SourceRequestID and SupervisorID are meaningful for the learned tier only.
type KnowledgeEntry struct {
	ID              string
	Tier            Tier
	Question        string
	QuestionNorm    string
	Answer          string
	Confidence      float64
	Verified        bool
	TimesUsed       int
	SuccessRate     float64
	SourceRequestID string
	SupervisorID    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// UsageUpdate is a partial update of the bookkeeping fields of an entry.
// Nil fields are left untouched.
type UsageUpdate struct {
	TimesUsed   *int
	SuccessRate *float64
	Confidence  *float64
}

// IsEmpty reports whether the update changes nothing.
func (u UsageUpdate) IsEmpty() bool {
	return u.TimesUsed == nil && u.SuccessRate == nil && u.Confidence == nil
}

// ContentUpdate replaces the curated content of an entry.
type ContentUpdate struct {
	Question   string
	Answer     string
	Confidence float64
}

// HelpRequestStatus is the lifecycle state of a help request.
type HelpRequestStatus string

const (
	HelpRequestPending  HelpRequestStatus = "pending"
	HelpRequestResolved HelpRequestStatus = "resolved"
)

// CallerContext is opaque caller metadata carried through escalation.
type CallerContext struct {
	SessionID string         `json:"session_id,omitempty"`
	TrackID   string         `json:"track_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// HelpRequest is an escalation raised when no automated answer was good enough.
type HelpRequest struct {
	ID                 string
	Question           string
	Context            string
	Caller             CallerContext
	Status             HelpRequestStatus
	SupervisorResponse string
	ResolvedBy         string
	CreatedAt          time.Time
	ResolvedAt         *time.Time
}

// KnowledgeStore persists both knowledge tiers.
type KnowledgeStore interface {
	// CreateKnowledgeEntry inserts an entry. Returns ErrDuplicateKey if the
	// normalized question already exists in entry.Tier.
	CreateKnowledgeEntry(ctx context.Context, entry *KnowledgeEntry) error
	GetKnowledgeEntry(ctx context.Context, tier Tier, id string) (*KnowledgeEntry, error)
	// FindKnowledgeEntry looks up an entry by normalized question.
	FindKnowledgeEntry(ctx context.Context, tier Tier, questionNorm string) (*KnowledgeEntry, error)
	// ListKnowledgeEntries returns entries of a tier whose question contains query
	// (case-insensitive). An empty query returns all entries.
	ListKnowledgeEntries(ctx context.Context, tier Tier, query string) ([]*KnowledgeEntry, error)
	UpdateKnowledgeContent(ctx context.Context, tier Tier, id string, update ContentUpdate) error
	UpdateKnowledgeUsage(ctx context.Context, tier Tier, id string, update UsageUpdate) error
	// IncrementTimesUsed adds one to an entry's usage counter atomically.
	IncrementTimesUsed(ctx context.Context, tier Tier, id string) error
	SetKnowledgeVerified(ctx context.Context, tier Tier, id string, verified bool) error
	DeleteKnowledgeEntry(ctx context.Context, tier Tier, id string) error
}

// HelpRequestStore persists escalation requests.
type HelpRequestStore interface {
	CreateHelpRequest(ctx context.Context, req *HelpRequest) error
	GetHelpRequest(ctx context.Context, id string) (*HelpRequest, error)
	// ListHelpRequests returns requests newest first. An empty status returns all.
	ListHelpRequests(ctx context.Context, status HelpRequestStatus) ([]*HelpRequest, error)
	// ResolveHelpRequest moves a pending request to resolved. Returns ErrNotFound
	// for unknown ids and ErrAlreadyResolved if the request is not pending.
	ResolveHelpRequest(ctx context.Context, id, response, resolvedBy string, at time.Time) (*HelpRequest, error)
	CountHelpRequests(ctx context.Context, status HelpRequestStatus) (int, error)
}

// Store is the full persistence surface used by the gateway.
type Store interface {
	KnowledgeStore
	HelpRequestStore
	AuditStore
	Ping(ctx context.Context) error
	Close() error
}
