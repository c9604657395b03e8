// Package pgconn is the executor's collaborator for talking to the
// PostgreSQL cluster being backed up: a liveness probe used during
// PREPARING/RUNNING (spec.md §4.D), and a streaming base-backup source for
// the `basic`/`pipe` modes.
package pgconn

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5"
	pgxconn "github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
)

// pingTimeout bounds how long a liveness probe may block; a hung probe
// must not wedge the executor's state machine.
const pingTimeout = 10 * time.Second

// CheckConnectionAlive reports whether connString still reaches a live
// PostgreSQL server. It never returns an error: per spec.md §4.D, any
// failure to confirm liveness is itself the "not alive" signal, mirroring
// `check_if_pg_connection_is_alive` returning a bare bool.
func CheckConnectionAlive(ctx context.Context, connString string) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return false
	}
	defer conn.Close(context.Background())

	return conn.Ping(ctx) == nil
}

// BackupStreamer is the source of bytes for the `basic` and `pipe`
// executor modes: the PostgreSQL replication protocol's BASE_BACKUP
// command, which returns the cluster's data directory as one or more tar
// streams.
type BackupStreamer interface {
	// StreamBaseBackup issues BASE_BACKUP and copies the resulting tar
	// stream(s) to dst, returning once the server signals completion.
	StreamBaseBackup(ctx context.Context, dst io.Writer) error
	Close(ctx context.Context) error
}

// Streamer is a BackupStreamer backed by a real replication-mode
// connection.
type Streamer struct {
	conn *pgxconn.PgConn
}

// Dial opens a replication-mode connection to connString. The connection
// string must already carry `replication=true`; pgconn refuses to issue
// BASE_BACKUP over an ordinary session connection.
func Dial(ctx context.Context, connString string) (*Streamer, error) {
	conn, err := pgxconn.Connect(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("dial replication connection: %w", err)
	}
	return &Streamer{conn: conn}, nil
}

func (s *Streamer) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

// StreamBaseBackup issues BASE_BACKUP and relays every CopyData frame of
// the resulting tar stream to dst until the server sends CopyDone. A
// cluster with tablespaces sends one tar stream per tablespace in
// sequence; StreamBaseBackup concatenates them in server order, leaving
// tablespace boundary bookkeeping to the caller.
func (s *Streamer) StreamBaseBackup(ctx context.Context, dst io.Writer) error {
	frontend := s.conn.Frontend()

	frontend.Send(&pgproto3.Query{String: "BASE_BACKUP LABEL 'pgbasebackup' PROGRESS NOWAIT"})
	if err := frontend.Flush(); err != nil {
		return fmt.Errorf("send BASE_BACKUP: %w", err)
	}

	for {
		msg, err := frontend.Receive()
		if err != nil {
			return fmt.Errorf("receive base backup message: %w", err)
		}

		switch m := msg.(type) {
		case *pgproto3.CopyData:
			if _, err := dst.Write(m.Data); err != nil {
				return fmt.Errorf("write base backup stream: %w", err)
			}
		case *pgproto3.CopyDone:
			// One tablespace stream finished; BASE_BACKUP sends another
			// CopyOutResponse/CopyData run per remaining tablespace, ending
			// in a final CommandComplete.
			continue
		case *pgproto3.ErrorResponse:
			return fmt.Errorf("base backup failed: %s", m.Message)
		case *pgproto3.CommandComplete, *pgproto3.ReadyForQuery:
			return nil
		}
	}
}
