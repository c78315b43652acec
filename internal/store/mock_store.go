// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject failures

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
// Setting one of the Fail* fields makes the matching method return that error.
type MockStore struct {
	mu       sync.RWMutex
	entries  map[string]*KnowledgeEntry // keyed by "tier:id"
	requests map[string]*HelpRequest    // keyed by request ID
	audit    []AuditEntry               // append order

	FailCreateKnowledge error
	FailFindKnowledge   error
	FailIncrement       error
	FailCreateRequest   error
	FailResolve         error
	FailPing            error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		entries:  make(map[string]*KnowledgeEntry),
		requests: make(map[string]*HelpRequest),
	}
}

func entryKey(tier Tier, id string) string {
	return string(tier) + ":" + id
}

// CreateKnowledgeEntry stores a copy of entry.
func (m *MockStore) CreateKnowledgeEntry(ctx context.Context, entry *KnowledgeEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCreateKnowledge != nil {
		return m.FailCreateKnowledge
	}

	if entry.QuestionNorm == "" {
		entry.QuestionNorm = NormalizeQuestion(entry.Question)
	}
	for _, e := range m.entries {
		if e.Tier == entry.Tier && e.QuestionNorm == entry.QuestionNorm {
			return ErrDuplicateKey
		}
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = entry.CreatedAt
	}

	e := *entry
	m.entries[entryKey(e.Tier, e.ID)] = &e
	return nil
}

// GetKnowledgeEntry returns a copy of the entry.
func (m *MockStore) GetKnowledgeEntry(ctx context.Context, tier Tier, id string) (*KnowledgeEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[entryKey(tier, id)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// FindKnowledgeEntry returns a copy of the entry with the given normalized question.
func (m *MockStore) FindKnowledgeEntry(ctx context.Context, tier Tier, questionNorm string) (*KnowledgeEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.FailFindKnowledge != nil {
		return nil, m.FailFindKnowledge
	}

	for _, e := range m.entries {
		if e.Tier == tier && e.QuestionNorm == questionNorm {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// ListKnowledgeEntries returns copies ordered by most recently updated.
func (m *MockStore) ListKnowledgeEntries(ctx context.Context, tier Tier, query string) ([]*KnowledgeEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := NormalizeQuestion(query)
	result := make([]*KnowledgeEntry, 0)
	for _, e := range m.entries {
		if e.Tier != tier {
			continue
		}
		if needle != "" && !strings.Contains(e.QuestionNorm, needle) {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

// UpdateKnowledgeContent replaces question, answer and confidence.
func (m *MockStore) UpdateKnowledgeContent(ctx context.Context, tier Tier, id string, update ContentUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[entryKey(tier, id)]
	if !ok {
		return ErrNotFound
	}
	norm := NormalizeQuestion(update.Question)
	for _, other := range m.entries {
		if other.Tier == tier && other.ID != id && other.QuestionNorm == norm {
			return ErrDuplicateKey
		}
	}

	e.Question = update.Question
	e.QuestionNorm = norm
	e.Answer = update.Answer
	e.Confidence = update.Confidence
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateKnowledgeUsage applies the non-nil fields of update and bumps UpdatedAt.
func (m *MockStore) UpdateKnowledgeUsage(ctx context.Context, tier Tier, id string, update UsageUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[entryKey(tier, id)]
	if !ok {
		return ErrNotFound
	}
	if update.IsEmpty() {
		return nil
	}
	if update.TimesUsed != nil {
		e.TimesUsed = *update.TimesUsed
	}
	if update.SuccessRate != nil {
		e.SuccessRate = *update.SuccessRate
	}
	if update.Confidence != nil {
		e.Confidence = *update.Confidence
	}
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// IncrementTimesUsed adds one to TimesUsed.
func (m *MockStore) IncrementTimesUsed(ctx context.Context, tier Tier, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailIncrement != nil {
		return m.FailIncrement
	}

	e, ok := m.entries[entryKey(tier, id)]
	if !ok {
		return ErrNotFound
	}
	e.TimesUsed++
	return nil
}

// SetKnowledgeVerified toggles the verified flag.
func (m *MockStore) SetKnowledgeVerified(ctx context.Context, tier Tier, id string, verified bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[entryKey(tier, id)]
	if !ok {
		return ErrNotFound
	}
	e.Verified = verified
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteKnowledgeEntry removes an entry.
func (m *MockStore) DeleteKnowledgeEntry(ctx context.Context, tier Tier, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entryKey(tier, id)
	if _, ok := m.entries[key]; !ok {
		return ErrNotFound
	}
	delete(m.entries, key)
	return nil
}

// CreateHelpRequest stores a copy of req.
func (m *MockStore) CreateHelpRequest(ctx context.Context, req *HelpRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCreateRequest != nil {
		return m.FailCreateRequest
	}
	if _, exists := m.requests[req.ID]; exists {
		return ErrDuplicateKey
	}
	if req.Status == "" {
		req.Status = HelpRequestPending
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}

	r := *req
	m.requests[r.ID] = &r
	return nil
}

// GetHelpRequest returns a copy of the request.
func (m *MockStore) GetHelpRequest(ctx context.Context, id string) (*HelpRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// ListHelpRequests returns copies newest first.
func (m *MockStore) ListHelpRequests(ctx context.Context, status HelpRequestStatus) ([]*HelpRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*HelpRequest, 0)
	for _, r := range m.requests {
		if status != "" && r.Status != status {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// ResolveHelpRequest moves a pending request to resolved under the write lock.
func (m *MockStore) ResolveHelpRequest(ctx context.Context, id, response, resolvedBy string, at time.Time) (*HelpRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailResolve != nil {
		return nil, m.FailResolve
	}

	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != HelpRequestPending {
		return nil, ErrAlreadyResolved
	}

	resolvedAt := at.UTC()
	r.Status = HelpRequestResolved
	r.SupervisorResponse = response
	r.ResolvedBy = resolvedBy
	r.ResolvedAt = &resolvedAt

	cp := *r
	return &cp, nil
}

// CountHelpRequests counts requests, optionally filtered by status.
func (m *MockStore) CountHelpRequests(ctx context.Context, status HelpRequestStatus) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, r := range m.requests {
		if status == "" || r.Status == status {
			count++
		}
	}
	return count, nil
}

// AppendAuditLog records a copy of e.
func (m *MockStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prepareAuditEntry(e)
	m.audit = append(m.audit, *e)
	return nil
}

// ListAuditLog filters the recorded entries, newest first.
func (m *MockStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := normalizeAuditLimit(f.Limit)
	out := []AuditEntry{}
	for i := len(m.audit) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.audit[i]
		switch {
		case f.Since != nil && e.Timestamp.Before(*f.Since):
		case f.Actor != nil && e.Actor != *f.Actor:
		case f.Action != nil && e.Action != *f.Action:
		case f.TargetID != nil && e.TargetID != *f.TargetID:
		default:
			out = append(out, e)
		}
	}
	return out, nil
}

// Ping succeeds unless FailPing is set.
func (m *MockStore) Ping(ctx context.Context) error {
	return m.FailPing
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

var _ Store = (*MockStore)(nil)
