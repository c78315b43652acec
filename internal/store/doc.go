// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// The store package splits persistence into three interfaces:
//
//   - KnowledgeStore: predefined and learned question/answer entries
//   - HelpRequestStore: escalation requests and their resolution
//   - AuditStore: an append-only log of supervisor actions
//
// Store combines them with Ping and Close. SQLiteStore implements Store in a
// single struct; MockStore is an in-memory twin for tests that can also inject
// failures.
//
// # Data Models
//
//   - KnowledgeEntry: a question/answer pair in one Tier. Questions are unique
//     per tier after NormalizeQuestion.
//   - HelpRequest: an escalation with pending/resolved status, the caller's
//     opaque CallerContext, and the supervisor's response once resolved.
//   - AuditEntry: who did what to which request or knowledge entry.
//
// # Errors
//
// Backends return the sentinel errors ErrNotFound, ErrDuplicateKey and
// ErrAlreadyResolved; callers test them with errors.Is. ErrUpstreamUnavailable
// is used by higher layers to wrap database failures on primary paths.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// The pool is limited to one connection. ResolveHelpRequest is a single
// UPDATE guarded by status = 'pending', so concurrent resolutions of the same
// request have exactly one winner.
package store
