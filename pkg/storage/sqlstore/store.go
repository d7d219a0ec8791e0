// Package sqlstore opens the relational database behind every repository and keeps its schema.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jmoiron/sqlx"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Options selects the backend and how hard to try reaching it.
type Options struct {
	Driver          string // sqlite or postgres
	DSN             string
	ConnectAttempts int
}

var retryDelays = []time.Duration{200 * time.Millisecond, time.Second, 3 * time.Second, 5 * time.Second}

// Open connects to the database and waits until it answers a ping.
func Open(ctx context.Context, opts Options, lggr *zap.SugaredLogger) (*sqlx.DB, error) {
	driverName, dsn, err := resolve(opts)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driverName == "sqlite" {
		// SQLite serialises writers anyway; one connection avoids SQLITE_BUSY between them.
		db.SetMaxOpenConns(1)
	}

	attempts := opts.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}
	err = retry.Do(
		func() error {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return db.PingContext(pingCtx)
		},
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return retryDelays[min(int(n), len(retryDelays)-1)]
		}),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			lggr.Warnw("database not reachable yet", "driver", driverName, "attempt", n+1, "err", err)
		}),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("database did not answer after %d attempts: %w", attempts, err)
	}
	lggr.Infow("database connected", "driver", driverName)
	return db, nil
}

func resolve(opts Options) (string, string, error) {
	switch opts.Driver {
	case "sqlite":
		dsn := opts.DSN
		if dsn == "" {
			dsn = "agrimarket.db"
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return "sqlite", dsn + sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", nil
	case "postgres":
		if opts.DSN == "" {
			return "", "", fmt.Errorf("postgres requires a dsn")
		}
		return "postgres", opts.DSN, nil
	default:
		return "", "", fmt.Errorf("unsupported db type %s", opts.Driver)
	}
}

// NewID returns a sortable identifier tagged with the record type, e.g. "bkg_2J...".
func NewID(prefix string) string {
	return prefix + "_" + ksuid.New().String()
}

// InTx runs fn inside a transaction and rolls back when fn fails.
func InTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
