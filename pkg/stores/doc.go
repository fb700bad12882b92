// Package stores provides the SQLite build journal. Every build and every
// phase or item it applies is recorded as it starts and finishes, so a
// failed build shows how far it got. The schema is managed with
// golang-migrate from embedded SQL migrations.
package stores
