// Package sqliteconfig builds modernc.org/sqlite connection strings for the
// notification store.
package sqliteconfig

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned by config validation.
var (
	ErrPathEmpty           = errors.New("path cannot be empty")
	ErrBusyTimeoutNegative = errors.New("busy_timeout must be >= 0")
	ErrWALAutocheckpoint   = errors.New("wal_autocheckpoint must be >= -1")
	ErrInvalidTxLock       = errors.New("invalid txlock")
)

// DefaultBusyTimeout is the default busy timeout in milliseconds.
const DefaultBusyTimeout = 10000

// TxLock represents SQLite transaction lock mode.
type TxLock string

const (
	TxLockDeferred  TxLock = "deferred"
	TxLockImmediate TxLock = "immediate"
	TxLockExclusive TxLock = "exclusive"
)

// IsValid returns true if the TxLock is valid.
func (t TxLock) IsValid() bool {
	switch t {
	case TxLockDeferred, TxLockImmediate, TxLockExclusive, "":
		return true
	default:
		return false
	}
}

// Config holds SQLite database configuration.
type Config struct {
	Path              string // file path or ":memory:"
	BusyTimeout       int    // milliseconds (0 = disabled)
	WriteAheadLog     bool   // journal_mode=WAL
	WALAutocheckpoint int    // pages (-1 = not set)
	ForeignKeys       bool
	TxLock            TxLock
}

// Default returns the production configuration: WAL, normal sync, immediate
// write locks so read-state updates never deadlock on lock upgrades.
func Default(path string) *Config {
	return &Config{
		Path:              path,
		BusyTimeout:       DefaultBusyTimeout,
		WriteAheadLog:     true,
		WALAutocheckpoint: 1000,
		ForeignKeys:       true,
		TxLock:            TxLockImmediate,
	}
}

// Memory returns a configuration for in-memory databases, used by tests.
func Memory() *Config {
	return &Config{
		Path:              ":memory:",
		WALAutocheckpoint: -1,
		ForeignKeys:       true,
	}
}

// Validate checks if all configuration values are valid.
func (c *Config) Validate() error {
	if c.Path == "" {
		return ErrPathEmpty
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("%w, got %d", ErrBusyTimeoutNegative, c.BusyTimeout)
	}
	if c.WALAutocheckpoint < -1 {
		return fmt.Errorf("%w, got %d", ErrWALAutocheckpoint, c.WALAutocheckpoint)
	}
	if !c.TxLock.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidTxLock, c.TxLock)
	}
	return nil
}

// ToURL builds the connection string using _pragma parameters.
func (c *Config) ToURL() (string, error) {
	if err := c.Validate(); err != nil {
		return "", fmt.Errorf("invalid config: %w", err)
	}

	var query []string
	if c.TxLock != "" {
		query = append(query, "_txlock="+string(c.TxLock))
	}
	if c.BusyTimeout > 0 {
		query = append(query, fmt.Sprintf("_pragma=busy_timeout=%d", c.BusyTimeout))
	}
	if c.WriteAheadLog && c.Path != ":memory:" {
		query = append(query, "_pragma=journal_mode=WAL", "_pragma=synchronous=NORMAL")
	}
	if c.WALAutocheckpoint >= 0 {
		query = append(query, fmt.Sprintf("_pragma=wal_autocheckpoint=%d", c.WALAutocheckpoint))
	}
	if c.ForeignKeys {
		query = append(query, "_pragma=foreign_keys=ON")
	}

	base := ":memory:"
	if c.Path != ":memory:" {
		base = "file:" + c.Path
	}
	if len(query) > 0 {
		base += "?" + strings.Join(query, "&")
	}
	return base, nil
}
