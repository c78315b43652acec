// Package knowledge owns reads and writes of the predefined and learned
// knowledge tiers.
//
// # Trust Policy
//
// Lookup checks the predefined tier first and returns any exact match. A
// learned match is served only if it is verified, or if both its confidence
// exceeds MinConfidence and its success rate exceeds MinSuccessRate. Serving a
// learned entry increments its usage counter; that write is best-effort.
//
// Matching is exact after store.NormalizeQuestion, so "What are your hours?"
// and "WHAT ARE YOUR HOURS?" are the same key.
//
// # Feedback
//
// RecordFeedback nudges a learned entry's success rate toward 1 or 0 by
// FeedbackWeight. Nothing else changes the success rate; it does not decay
// with age.
//
// # Seeding
//
// Seed loads predefined entries from a YAML document of question/answer pairs.
// Questions already present are skipped, so a seed file can be applied again.
package knowledge
