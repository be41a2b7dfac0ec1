// Package store is the session journal: an append-only SQLite log of
// reconciliation cycles and the observations that triggered them.
//
// The journal lives for the life of the process. It is normally opened at
// ":memory:" and exists for inspection through the admin API, not for
// recovery; the remote system remains the only durable state.
//
// # Ordering
//
// Rows carry a seq from a logical clock. Reads order by seq, never by
// timestamp, so entries written within the same millisecond keep their
// order.
//
// # Database Configuration
//
//   - single connection (an in-memory database is per connection)
//   - busy_timeout=5000
//   - foreign_keys=ON
package store
