package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"schoolbus-tracker/internal/core"
	"schoolbus-tracker/internal/model"
)

// Store is the Postgres store of record. All mutating core operations go
// through WithinTx so multi-writer rows (the Bus snapshot in particular)
// are only touched inside a transaction.
type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{db: db}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error { return s.db.Close() }

// WithinTx runs fn inside one transaction; fn's error rolls back.
func (s *Store) WithinTx(ctx context.Context, fn func(q core.Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&queries{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Buses returns the fleet's live snapshots. Reconnecting realtime
// clients pull this instead of expecting replay.
func (s *Store) Buses(ctx context.Context) ([]model.Bus, error) {
	var buses []model.Bus
	err := s.WithinTx(ctx, func(q core.Queries) error {
		var err error
		buses, err = q.Buses(ctx)
		return err
	})
	return buses, err
}

// BusByID returns one bus snapshot, nil when absent.
func (s *Store) BusByID(ctx context.Context, id uuid.UUID) (*model.Bus, error) {
	var bus *model.Bus
	err := s.WithinTx(ctx, func(q core.Queries) error {
		var err error
		bus, err = q.Bus(ctx, id)
		return err
	})
	return bus, err
}
