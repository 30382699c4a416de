// Package ctl implements circulationctl, the operator command line for the
// circulation engine. Every command opens its own database pool, runs one
// operation and exits.
package ctl

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/dmitrijs2005/circulation/internal/logging"
	"github.com/dmitrijs2005/circulation/internal/server/config"
	"github.com/dmitrijs2005/circulation/internal/server/models"
	"github.com/dmitrijs2005/circulation/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/circulation/internal/server/services"
)

type Circulation interface {
	Checkout(ctx context.Context, isbn, cardID string) (*models.CheckoutResult, error)
	CheckIn(ctx context.Context, loanIDs []int64) ([]models.CheckInResult, error)
	SearchActiveLoans(ctx context.Context, term string) ([]models.ActiveLoan, error)
	BorrowerLoans(ctx context.Context, cardID string) ([]models.BorrowerLoan, error)
}

type Fines interface {
	Reconcile(ctx context.Context) (*models.ReconcileResult, error)
	PayAll(ctx context.Context, cardID string) (*models.PaymentResult, error)
	ListByBorrower(ctx context.Context, includePaid bool) ([]models.BorrowerFines, error)
	UnpaidTotal(ctx context.Context, cardID string) (decimal.Decimal, error)
}

// Backend is what a command runs against.
type Backend interface {
	Migrate(ctx context.Context) error
	Circulation() Circulation
	Fines() Fines
	Close() error
}

// Opener builds a Backend for the given configuration.
type Opener func(ctx context.Context, cfg *config.Config, logger logging.Logger) (Backend, error)

type postgresBackend struct {
	db   *sql.DB
	rm   repomanager.RepositoryManager
	circ *services.CirculationService
	fine *services.FineService
}

// PostgresOpener connects to cfg.DatabaseDSN through pgx.
func PostgresOpener(ctx context.Context, cfg *config.Config, logger logging.Logger) (Backend, error) {
	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db connect error: %w", err)
	}

	rm, err := repomanager.NewPostgresRepositoryManager(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("db init error: %w", err)
	}

	return &postgresBackend{
		db:   db,
		rm:   rm,
		circ: services.NewCirculationService(db, rm, cfg, logger),
		fine: services.NewFineService(db, rm, cfg, logger),
	}, nil
}

func (b *postgresBackend) Migrate(ctx context.Context) error {
	return b.rm.RunMigrations(ctx, b.db)
}

func (b *postgresBackend) Circulation() Circulation { return b.circ }
func (b *postgresBackend) Fines() Fines             { return b.fine }
func (b *postgresBackend) Close() error             { return b.db.Close() }
