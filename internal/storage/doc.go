// Package storage persists journal entries and owner preferences.
//
// Drivers:
//   - "memory": process-local maps (default; lost on restart)
//   - "file": dependency-free JSON snapshot + append-only journal
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// Every backend implements notes.Store and notes.PreferenceProvider, which is
// all the drift scheduler needs; the rest of Store is the management surface
// used by the CLI and the activity hooks.
package storage
