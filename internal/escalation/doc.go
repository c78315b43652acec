// Package escalation tracks help requests raised when no automated answer was
// trustworthy enough.
//
// A request moves from pending to resolved exactly once. Registry.Create
// persists the request before returning it, and Registry.Resolve relies on the
// store's conditional update so concurrent resolutions have one winner; the
// others receive store.ErrAlreadyResolved.
package escalation
