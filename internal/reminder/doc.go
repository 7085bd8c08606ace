// Package reminder implements the per-tenant reminder: the on/off/status
// command semantics, the per-tick scan over the settings table, and the
// dispatcher that delivers the fixed notification to one destination.
//
// Commands and ticks share nothing but the storage.Store. Each loads the
// whole table fresh, so a tick that overlaps a command sees either the
// table before or after that command's save.
package reminder
