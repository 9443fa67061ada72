// Package stores records efemel run history in SQLite. Each run is stored
// with its summary counts and one row per entry file.
package stores
