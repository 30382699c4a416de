package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/circulation/internal/dbx"
	"github.com/dmitrijs2005/circulation/internal/server/repositories/catalog"
	"github.com/dmitrijs2005/circulation/internal/server/repositories/fines"
	"github.com/dmitrijs2005/circulation/internal/server/repositories/loans"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Catalog(db dbx.DBTX) catalog.Repository
	Loans(db dbx.DBTX) loans.Repository
	Fines(db dbx.DBTX) fines.Repository
}
