package feeds

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	apperrors "funding-recon-service/pkg/errors"
	"funding-recon-service/pkg/logger"
	"funding-recon-service/pkg/retry"
)

// invoiceQuery pulls recent invoice facts for the tracked tenants. The
// ledger schema is owned by the tenant platform; only this query knows it.
const invoiceQuery = `
	SELECT p.invoice_id,
	       p.total_amount::text,
	       p.status,
	       p.tenant,
	       COALESCE(pr.batch_reference, ''),
	       p.currency
	FROM documents_payment p
	LEFT JOIN documents_payrun pr ON pr.id = p.payrun_id AND pr.tenant = p.tenant
	WHERE p.tenant = ANY($1)
	  AND p.created_at > NOW() - ($2 || ' days')::interval
	ORDER BY p.created_at DESC`

// TenantDBConfig configures the invoice feed.
type TenantDBConfig struct {
	DSN      string       `mapstructure:"dsn"`
	Tenants  []string     `mapstructure:"tenants"`
	DaysBack int          `mapstructure:"days_back"`
	Retry    retry.Config `mapstructure:"retry"`
}

// DefaultTenantDBConfig returns the production lookback window.
func DefaultTenantDBConfig() *TenantDBConfig {
	return &TenantDBConfig{
		DaysBack: 60,
		Retry:    retry.DefaultConfig(),
	}
}

// PGInvoiceSource reads invoice facts from the remote tenant ledger over
// pgx. It satisfies InvoiceSource.
type PGInvoiceSource struct {
	pool   *pgxpool.Pool
	config *TenantDBConfig
	log    logger.Logger
}

// NewPGInvoiceSource connects a pooled client to the tenant ledger.
func NewPGInvoiceSource(ctx context.Context, config *TenantDBConfig, log logger.Logger) (*PGInvoiceSource, error) {
	if config == nil || config.DSN == "" {
		return nil, apperrors.New(apperrors.CategoryInternal, apperrors.CodeInvalidArgument,
			"tenant database DSN is required")
	}
	if log == nil {
		log = logger.Discard()
	}
	pool, err := pgxpool.New(ctx, config.DSN)
	if err != nil {
		return nil, apperrors.ConnectivityError(apperrors.CodeConnectionFailed, "tenant-db", err)
	}
	return &PGInvoiceSource{pool: pool, config: config, log: log.WithComponent("invoice-feed")}, nil
}

// FetchInvoices queries the ledger with bounded timeouts and capped
// backoff. Rows that fail to scan are skipped and counted, never fatal.
func (s *PGInvoiceSource) FetchInvoices(ctx context.Context) ([]InvoiceFact, error) {
	var facts []InvoiceFact
	err := retry.Do(ctx, s.config.Retry, "tenant-db", func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, invoiceQuery, s.config.Tenants, fmt.Sprint(s.config.DaysBack))
		if err != nil {
			return apperrors.ConnectivityError(apperrors.CodeConnectionFailed, "tenant-db", err)
		}
		defer rows.Close()

		facts = facts[:0]
		skipped := 0
		for rows.Next() {
			var f InvoiceFact
			var amount string
			if err := rows.Scan(&f.CorrelationCode, &amount, &f.Status, &f.Tenant, &f.BatchRef, &f.Currency); err != nil {
				skipped++
				continue
			}
			f.Amount, err = decimal.NewFromString(amount)
			if err != nil || f.CorrelationCode == "" {
				skipped++
				continue
			}
			facts = append(facts, f)
		}
		if err := rows.Err(); err != nil {
			return apperrors.ConnectivityError(apperrors.CodeConnectionFailed, "tenant-db", err)
		}
		if skipped > 0 {
			s.log.WithField("skipped", skipped).Warn("skipped unparseable invoice rows")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithField("count", len(facts)).Debug("fetched invoice facts")
	return facts, nil
}

// Close releases the connection pool.
func (s *PGInvoiceSource) Close() {
	s.pool.Close()
}
