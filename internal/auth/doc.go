// Package auth provides the optional bearer-token guard for frontdesk-gateway.
//
// # Tokens
//
// Tokens are HS256 JWTs signed with the configured jwt_secret. Each carries a
// subject ("sub") and a role ("role"):
//
//   - supervisor: may list and resolve help requests and curate the knowledge base.
//   - agent: a conversation agent that asks questions on behalf of a caller.
//
// Tokens are minted with the CLI:
//
//	frontdesk-gateway token --subject alice --role supervisor
//
// # Middleware
//
// Guard.Require wraps an http.Handler. Requests without a valid token get 401;
// valid tokens without a permitted role get 403. The verified Identity is
// available to handlers through FromContext.
//
// When no secret is configured the guard is disabled and every route is open,
// which suits a gateway bound to a private network.
package auth
