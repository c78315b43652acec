// ABOUTME: Supervisor action audit trail for the gateway
// ABOUTME: Records resolutions and knowledge edits, and serves GET /audit

package gateway

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/frontdesk-gateway/internal/auth"
	"github.com/2389/frontdesk-gateway/internal/store"
)

const anonymousActor = "anonymous"

// AuditEntryResponse is the JSON shape of one audit log entry.
type AuditEntryResponse struct {
	ID         string         `json:"id"`
	Actor      string         `json:"actor"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// actorFrom names who is acting: the token subject if present, else fallback.
func actorFrom(ctx context.Context, fallback string) string {
	if id := auth.FromContext(ctx); id != nil && id.Subject != "" {
		return id.Subject
	}
	if fallback != "" {
		return fallback
	}
	return anonymousActor
}

// recordAudit appends to the audit log. Failures are logged, not returned:
// the action itself has already happened.
func (g *Gateway) recordAudit(ctx context.Context, actor string, action store.AuditAction, targetType, targetID string, detail map[string]any) {
	if actor == "" {
		actor = anonymousActor
	}
	err := g.store.AppendAuditLog(context.WithoutCancel(ctx), &store.AuditEntry{
		Actor:      actor,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Detail:     detail,
	})
	if err != nil {
		g.logger.Warn("failed to record audit entry", "action", action, "target_id", targetID, "error", err)
	}
}

// handleListAudit handles GET /audit?actor=&action=&target_id=&since=&limit=.
func (g *Gateway) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f store.AuditFilter

	if v := q.Get("actor"); v != "" {
		f.Actor = &v
	}
	if v := q.Get("target_id"); v != "" {
		f.TargetID = &v
	}
	if v := q.Get("action"); v != "" {
		action, ok := store.ParseAuditAction(v)
		if !ok {
			g.sendJSONError(w, http.StatusBadRequest, "unknown audit action: "+v)
			return
		}
		f.Action = &action
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		f.Since = &since
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	entries, err := g.store.ListAuditLog(r.Context(), f)
	if err != nil {
		g.sendServiceError(w, "list audit log", err)
		return
	}

	out := make([]AuditEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = AuditEntryResponse{
			ID:         e.ID,
			Actor:      e.Actor,
			Action:     string(e.Action),
			TargetType: e.TargetType,
			TargetID:   e.TargetID,
			Timestamp:  e.Timestamp,
			Detail:     e.Detail,
		}
	}
	g.sendJSON(w, http.StatusOK, out)
}
