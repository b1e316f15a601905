package cmd

import (
	"context"
	"fmt"

	"funding-recon-service/cmd/fundingtracker/config"
	"funding-recon-service/internal/feeds"
	"funding-recon-service/internal/matcher"
	"funding-recon-service/internal/store"
	"funding-recon-service/internal/syncer"
	"funding-recon-service/pkg/logger"
)

// app holds the wired components a command needs. Commands that only read
// the store use openStore instead.
type app struct {
	log    logger.Logger
	store  *store.Store
	syncer *syncer.Syncer

	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if a.store != nil {
		a.store.Close()
	}
}

// buildApp wires the store, the configured upstream sources, the funding
// matcher, and the sync orchestrator. Sources without configuration are
// left nil; the syncer skips their steps.
func buildApp(ctx context.Context) (*app, error) {
	log, err := logger.New(config.CreateLoggerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	st, err := store.Open(config.StorePath(), log)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a := &app{log: log, store: st}

	var remittances feeds.RemittanceSource
	if dir, sourceType := config.RemittanceDir(); dir != "" {
		remittances = feeds.NewDirRemittanceSource(dir, sourceType, log)
	}

	var invoices feeds.InvoiceSource
	if tenantConfig := config.CreateTenantDBConfig(); tenantConfig != nil {
		source, err := feeds.NewPGInvoiceSource(ctx, tenantConfig, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to tenant database: %w", err)
		}
		a.closers = append(a.closers, source.Close)
		invoices = source
	}

	var payments feeds.PaymentsAPI
	if paymentsConfig := config.CreatePaymentsConfig(); paymentsConfig != nil {
		client, err := feeds.NewPaymentsClient(paymentsConfig, nil, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create payments client: %w", err)
		}
		payments = client
	}

	m, err := matcher.New(st, config.CreateMatcherConfig(), log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create funding matcher: %w", err)
	}

	sy, err := syncer.New(st, remittances, invoices, payments, m, config.CreateSyncerConfig(), log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create syncer: %w", err)
	}
	a.syncer = sy

	return a, nil
}

// openStore opens just the reconciliation store for read and operator
// commands.
func openStore() (*store.Store, logger.Logger, error) {
	log, err := logger.New(config.CreateLoggerConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	st, err := store.Open(config.StorePath(), log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, log, nil
}
