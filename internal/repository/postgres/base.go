package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/consult-lifecycle/internal/repository"
)

// BaseRepository provides common functionality for all repositories
type BaseRepository struct {
	db *sqlx.DB
}

// NewBaseRepository creates a new base repository
func NewBaseRepository(db *sqlx.DB) BaseRepository {
	return BaseRepository{db: db}
}

// GetDB returns the database instance
func (r *BaseRepository) GetDB() *sqlx.DB {
	return r.db
}

// WithTx executes a function within a transaction
func (r *BaseRepository) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// repos binds every lifecycle repository to one executor, either the pool
// or an open transaction.
type repos struct {
	ex sqlx.ExtContext
}

func (r repos) Cases() repository.CaseRepository               { return &caseRepository{ex: r.ex} }
func (r repos) Appointments() repository.AppointmentRepository { return &appointmentRepository{ex: r.ex} }
func (r repos) Reschedules() repository.RescheduleRepository   { return &rescheduleRepository{ex: r.ex} }
func (r repos) Settlements() repository.SettlementRepository   { return &settlementRepository{ex: r.ex} }
func (r repos) Coupons() repository.CouponRepository           { return &couponRepository{ex: r.ex} }
func (r repos) Outbox() repository.OutboxRepository            { return &outboxRepository{ex: r.ex} }

// Store is the Postgres implementation of repository.Store.
type Store struct {
	BaseRepository
	repos
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{BaseRepository: NewBaseRepository(db), repos: repos{ex: db}}
}

func (s *Store) WithTx(ctx context.Context, fn func(repository.Repositories) error) error {
	return s.BaseRepository.WithTx(ctx, func(tx *sqlx.Tx) error {
		return fn(repos{ex: tx})
	})
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Audit returns the audit log repository on the pool.
func (s *Store) Audit() repository.AuditRepository {
	return &auditRepository{ex: s.db}
}

var _ repository.Store = (*Store)(nil)

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	return err
}

func expectOneRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}
