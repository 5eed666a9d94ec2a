// Package poll drives the reconciliation loop.
//
// A Scheduler walks the enabled devices in registry order once per cycle
// and hands each to the reconciler. Around that loop it keeps three pieces
// of state:
//
//   - an authentication flag set by the login path; while it is set every
//     cycle is skipped outright
//   - a consecutive-failure counter feeding a circuit breaker, which
//     suspends reconciliation for a long cooldown once the counter reaches
//     the configured limit and then lets a single half-open attempt decide
//     whether to resume
//   - a device-pass counter that requests a full restart of the loop once
//     it reaches the configured ceiling
//
// The scheduler also triggers the periodic update check in the background.
//
// All sleeps go through a Clock so tests can drive the loop without
// waiting.
package poll
