// Package storage persists finished dispatch passes to a local SQLite
// file so operators can review past campaigns.
//
// Storage is optional: with no path configured Open returns (nil, nil)
// and callers treat the nil store as "history disabled".
package storage
