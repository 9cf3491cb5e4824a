// Package sqlstore stores tenant credential documents in a SQL table through
// bun, for sqlite and postgres.
package sqlstore
