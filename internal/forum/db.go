// Package forum is the Discuz Republisher: it writes a completed
// Article into a Discuz-compatible forum database as a new thread,
// ported from the original project's direct-SQL publish step
// (discuz_client.py). Every publish is one MySQL transaction spanning
// the thread, post, forum-counter, and member-counter rows.
package forum

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/go-sql-driver/mysql"

	pipeerrs "github.com/sifangyu/weipc/internal/core/errors"
)

// DB wraps a MySQL connection to the Discuz forum database.
type DB struct {
	conn *sqlx.DB
}

const (
	maxOpenConns    = 10
	maxIdleConns    = 2
	connMaxLifetime = time.Hour
)

// Open connects to the Discuz database at dsn through a sqlx
// connection pool of up to maxOpenConns connections.
func Open(ctx context.Context, dsn string) (*DB, error) {
	conn, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open discuz connection: %w", pipeerrs.ErrDatabase, err)
	}

	conn.SetMaxOpenConns(maxOpenConns)
	conn.SetMaxIdleConns(maxIdleConns)
	conn.SetConnMaxLifetime(connMaxLifetime)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: ping discuz database: %w", pipeerrs.ErrDatabase, err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
