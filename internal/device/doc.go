// Package device provides state history persistence for the NAD bridge.
//
// Every observed receiver state change is recorded as a full JSON snapshot
// in the state_history table. This gives installations a local audit trail
// of what the receiver reported and when, independent of any time-series
// database being available.
//
// # Key Types
//
//   - State: A point-in-time snapshot of reported values, keyed by field
//   - StateHistoryEntry: One recorded change with device, source, and time
//   - StateHistoryRepository: Storage interface, implemented on SQLite
//
// # Usage
//
//	repo := device.NewSQLiteStateHistoryRepository(db)
//
//	// Record a change observed on the wire
//	err := repo.RecordStateChange(ctx, "nad-avr",
//	    device.State{"power": "on", "volume_db": -28},
//	    device.StateHistorySourceEvent)
//
//	// Inspect recent history, newest first
//	entries, err := repo.GetHistory(ctx, "nad-avr", 50)
//
//	// Periodic retention cleanup
//	deleted, err := repo.PruneHistory(ctx, 30*24*time.Hour)
//
// # Thread Safety
//
// The repository is safe for concurrent use; it holds no state beyond the
// database handle.
package device
