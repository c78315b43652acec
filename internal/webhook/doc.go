// Package webhook authenticates LiveKit deliveries and turns room lifecycle
// events into subscriber events.
package webhook
