// Package dedupe guards webhook handlers against replayed deliveries within a
// configurable window.
package dedupe
