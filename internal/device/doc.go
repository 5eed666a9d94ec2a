// Package device provides the device registry and state store for the
// doorbell sync daemon.
//
// A Device is one registered doorbell or camera: a local ID, the provider's
// ID, a display name, an enabled flag and a key/value States record that the
// reconciler converges towards what the provider reports.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────────┐
//	│                         Registry                               │
//	│                                                                │
//	│  ┌──────────────────┐   ┌──────────────────┐   ┌────────────┐  │
//	│  │   CRUD + cache   │   │   State store    │   │ Listeners  │  │
//	│  │  (registry.go)   │   │  SetIfChanged    │──▶│  history   │  │
//	│  │                  │   │  SetErrorState   │   │  mqtt      │  │
//	│  │                  │   │  SetStatusIcon   │   │  websocket │  │
//	│  └────────┬─────────┘   └────────┬─────────┘   └────────────┘  │
//	└───────────│──────────────────────│─────────────────────────────┘
//	            ▼                      ▼
//	┌──────────────────────────────────────────────┐
//	│   SQLiteRepository (devices, json_patch)     │
//	│   SQLiteStateHistoryRepository (history)     │
//	└──────────────────────────────────────────────┘
//
// # Write suppression
//
// Every state write compares the new value with the cached one after
// NormalizeValue, so an integer battery level read back from JSON as
// float64 compares equal to the int the reconciler passes in. Unchanged
// values cause no database write and no listener call.
//
// # Time values
//
// Time-valued states are stored as TimeLayout strings in UTC. A device that
// has never seen an event holds SentinelEventTime in last_event_time;
// RefreshCache and CreateDevice seed it when missing.
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Compare-and-write is
// serialised so an action handler and the poll loop cannot interleave a
// write to the same device.
package device
