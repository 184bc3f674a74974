// Package storage persists the subscriber registry, the audit trail of
// confirmed profile requests, and recent gas price samples in SQLite.
package storage
