package main

import (
	"github.com/rs/zerolog"

	"sterling/internal/domain/dedup"
	"sterling/internal/infrastructure/postgres"
	httphandlers "sterling/internal/interfaces/http"
	"sterling/internal/shared/config"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB *postgres.DB

	Engine *dedup.Engine

	TransactionHandler *httphandlers.TransactionHandler
	GroupHandler       *httphandlers.GroupHandler
	DedupHandler       *httphandlers.DedupHandler
}

// NewDependencies initializes all application dependencies.
func NewDependencies(cfg *config.Config, log zerolog.Logger) (*Dependencies, error) {
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	log.Info().Str("db", cfg.Database.DBName).Msg("connected to database")

	rules, err := dedup.LoadRules(cfg.Dedup.RulesPath)
	if err != nil {
		db.Close()
		return nil, err
	}

	ledgerRepo := postgres.NewLedgerRepository(db)
	dedupRepo := postgres.NewDedupRepository(db)
	engine := dedup.NewEngine(dedupRepo, rules, log)

	return &Dependencies{
		DB:                 db,
		Engine:             engine,
		TransactionHandler: httphandlers.NewTransactionHandler(ledgerRepo),
		GroupHandler:       httphandlers.NewGroupHandler(dedupRepo),
		DedupHandler:       httphandlers.NewDedupHandler(engine, dedupRepo),
	}, nil
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.DB != nil {
		d.DB.Close()
	}
}
