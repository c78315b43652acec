// Package engine answers caller questions and folds supervisor replies back
// into the knowledge base.
//
// Ask walks a strict priority chain: the knowledge service (predefined, then
// trusted learned entries), then the optional LLM, then escalation to a human.
// It never blocks on a person. Resolve commits the supervisor's answer first;
// the follow-up steps after that commit are best-effort.
package engine
