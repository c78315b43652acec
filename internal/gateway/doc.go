// Package gateway orchestrates the frontdesk-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator of the receptionist backend.
// It owns the data store, the knowledge and escalation services, the
// notifier, the resolution engine, and the single HTTP server in front of
// them.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx) // blocks until ctx is canceled
//
// Run shuts down with a fresh context bounded by server.shutdown_timeout:
// the HTTP server stops, websocket subscribers are disconnected, and the
// store is closed.
//
// # HTTP API
//
// Caller-facing (agent or supervisor token):
//
//   - POST /api/ask - Answer a question or escalate it
//   - POST /api/sessions/{id}/end - Forget a session's conversation history
//   - POST /help-requests - Record a help request directly
//   - POST /knowledge-base/learned/{id}/feedback - Report whether an answer helped
//
// Supervisor-facing (supervisor token):
//
//   - GET /help-requests?status= - List help requests
//   - GET /help-requests/{id} - Get one help request
//   - PUT /help-requests/{id}/resolve - Resolve with an answer
//   - GET|POST /knowledge-base/{tier} - List (?query=) or add entries
//   - GET|PUT|DELETE /knowledge-base/{tier}/{id} - Manage one entry
//   - PUT /knowledge-base/learned/{id}/verify?verified= - Toggle verification
//   - GET /audit?actor=&action=&target_id=&since=&limit= - Supervisor action log, newest first
//
// Unauthenticated:
//
//   - GET / - Service banner
//   - POST /webhook/livekit - Signed LiveKit room events
//   - GET /health, GET /health/ready, GET /metrics
//
// Tokens are only checked when auth.jwt_secret is set.
//
// # Websocket
//
// GET /ws subscribes to JSON text frames {"type": ..., "data": ...}. The
// token may be passed as ?token=. A connection opened with ?session_id=
// also receives speak events for that caller session. Supervisors resolve
// requests by sending:
//
//	{"type": "supervisor_response", "data": {"request_id": "...", "response": "..."}}
//
// A rejected resolution is answered on the same connection with an error
// frame carrying the request_id.
package gateway
