// Package reconcile converges one device's stored state towards what the
// provider reports.
//
// A Reconciler pass for a device:
//
//  1. Looks the device up by provider ID. A missing device is a soft miss:
//     empty Result, nil error.
//  2. Finds the newest event, first in the bulk recent-events map and then
//     through the per-device lookup. No event is not a failure; the pass
//     continues with battery only.
//  3. Decides whether the event is new by comparing its timestamp with the
//     stored last_event_time. Unparseable or missing timestamps count as new
//     so that state is never silently dropped.
//  4. Always refreshes battery level, status icon and the low-battery error
//     flag.
//  5. For a new event, writes name, kind, times, answered flag, firmware,
//     model, power state and recording URL.
//
// Every field write is isolated: its outcome lands in Result.Fields and a
// failure never aborts the other fields. Only provider lookups that fail
// for reasons other than "not found" return a *ReconcileError, which the
// scheduler counts towards its circuit breaker.
package reconcile
