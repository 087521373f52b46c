// Package journal records completed calls in a SQL database. SQLite
// (modernc.org/sqlite) and PostgreSQL (pgx) are supported.
package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Direction tells whether a call was served or made.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Entry is one journaled call.
type Entry struct {
	ID         uuid.UUID
	Direction  Direction
	Caller     string
	Service    string
	Procedure  string
	Encoding   string
	Code       string // empty for successful calls
	DurationMS int64
	At         time.Time
}

// Store persists entries.
type Store interface {
	// Record stores e. A zero ID or At is filled in.
	Record(ctx context.Context, e Entry) error

	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)

	// Close releases the database.
	Close() error
}

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// ErrUnknownDriver is returned by Open for unsupported drivers.
var ErrUnknownDriver = errors.New("unknown journal driver")

// Open connects to the journal database and creates the rpc_calls table
// if it is missing.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case DriverSQLite, "sqlite3":
		return OpenSQLite(ctx, dsn)
	case DriverPostgres, "postgres", "postgresql":
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// normalize fills in a missing id and timestamp.
func normalize(e Entry) Entry {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return e
}
