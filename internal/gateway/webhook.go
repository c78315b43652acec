// ABOUTME: HTTP handler for inbound LiveKit room webhooks
// ABOUTME: Reads the raw body for signature checks before any JSON decoding

package gateway

import (
	"errors"
	"io"
	"net/http"

	"github.com/2389/frontdesk-gateway/internal/webhook"
)

// handleLiveKitWebhook handles POST /webhook/livekit.
func (g *Gateway) handleLiveKitWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			g.sendJSONError(w, http.StatusRequestEntityTooLarge, "body too large")
			return
		}
		g.sendJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	result, err := g.webhook.Handle(r.Context(), body, r.Header.Get(webhook.SignatureHeader))
	switch {
	case errors.Is(err, webhook.ErrInvalidSignature):
		g.sendJSONError(w, http.StatusUnauthorized, "invalid signature")
	case errors.Is(err, webhook.ErrMalformed):
		g.sendJSONError(w, http.StatusBadRequest, "malformed event")
	case err != nil:
		g.logger.Error("webhook relay failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	default:
		g.sendJSON(w, http.StatusOK, map[string]string{"status": string(result)})
	}
}
