package state

import "time"

// ApplyTunables overrides the engine's startup-fixed tuning knobs from
// loaded configuration (pkg/config's CallbackConfig). It must be called
// before any ClientRecord or Session is created: the values it touches
// are plain package variables with no synchronization. DefaultMaxSlots
// is read whenever a slot table is created or resized; the retry budget,
// timeout floor and DELAY interval are read on every callback attempt.
//
// A zero value for any parameter leaves the corresponding default
// untouched, so a caller can pass a partially-populated config without
// zeroing out the engine's built-in defaults.
func ApplyTunables(maxSlots uint32, maxRetries int, minTimeout, delayRetry time.Duration) {
	if maxSlots > 0 {
		DefaultMaxSlots = maxSlots
	}
	if maxRetries > 0 {
		maxCallbackRetries = maxRetries
	}
	if minTimeout > 0 {
		minCallbackTimeout = minTimeout
	}
	if delayRetry > 0 {
		delayRetryInterval = delayRetry
	}
}
