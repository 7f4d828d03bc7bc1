package clinic

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver
)

// Adapter polls a clinic billing database for new invoices
type Adapter struct {
	db     *sql.DB
	config Config

	invoiceChan chan Invoice

	running  bool
	mu       sync.RWMutex
	cancel   context.CancelFunc
	lastPoll time.Time
	wg       sync.WaitGroup
}

// New creates a new clinic adapter
func New(cfg Config) *Adapter {
	return &Adapter{
		config:      cfg,
		invoiceChan: make(chan Invoice, cfg.EventBufferSize),
	}
}

// Start opens the database connection and starts polling
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("adapter already running")
	}

	connStr := fmt.Sprintf("server=%s;port=%d;database=%s;user id=%s;password=%s",
		a.config.Host,
		a.config.Port,
		a.config.Database,
		a.config.User,
		a.config.Password,
	)
	if a.config.Encrypt {
		connStr += ";encrypt=true;TrustServerCertificate=true"
	}

	db, err := sql.Open("sqlserver", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	a.db = db
	a.running = true
	a.lastPoll = time.Now().Add(-a.config.PollInterval)

	pollCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go a.pollLoop(pollCtx)

	return nil
}

// Stop stops polling and closes the connection
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}

	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	close(a.invoiceChan)

	if a.db != nil {
		a.db.Close()
	}

	a.running = false
	return nil
}

// Health checks database connectivity
func (a *Adapter) Health(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.running {
		return fmt.Errorf("adapter not running")
	}
	return a.db.PingContext(ctx)
}

// ClinicName returns the configured clinic name
func (a *Adapter) ClinicName() string {
	return a.config.ClinicName
}

// SubscribeInvoices registers a handler for newly discovered invoices
func (a *Adapter) SubscribeInvoices(ctx context.Context, handler InvoiceHandler) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case inv, ok := <-a.invoiceChan:
				if !ok {
					return
				}
				handler(inv)
			}
		}
	}()
}

// pollLoop polls for new invoices on the configured interval
func (a *Adapter) pollLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			lastPoll := a.lastPoll
			a.lastPoll = time.Now()
			a.mu.Unlock()

			if err := a.pollInvoices(ctx, lastPoll); err != nil {
				fmt.Printf("Error polling clinic invoices: %v\n", err)
			}
		}
	}
}

// pollInvoices reads invoices issued since the last poll
func (a *Adapter) pollInvoices(ctx context.Context, since time.Time) error {
	query := fmt.Sprintf(`
		SELECT
			InvoiceID,
			PatientName,
			ProviderName,
			ServiceDate,
			TotalAmount,
			Currency,
			DiagnosisCode,
			Description,
			IssuedAt
		FROM %s
		WHERE IssuedAt > @since
		ORDER BY IssuedAt ASC
	`, a.config.InvoiceTable)

	rows, err := a.db.QueryContext(ctx, query, sql.Named("since", since))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var inv Invoice
		var currency, diagCode, description sql.NullString

		err := rows.Scan(
			&inv.InvoiceID,
			&inv.PatientName,
			&inv.ProviderName,
			&inv.ServiceDate,
			&inv.TotalAmount,
			&currency,
			&diagCode,
			&description,
			&inv.IssuedAt,
		)
		if err != nil {
			continue
		}

		if currency.Valid {
			inv.Currency = currency.String
		}
		if diagCode.Valid {
			inv.DiagnosisCode = diagCode.String
		}
		if description.Valid {
			inv.Description = description.String
		}

		select {
		case a.invoiceChan <- inv:
		default:
			// Channel full, skip; the invoice is picked up again only if
			// a later poll window still covers it.
		}
	}

	return rows.Err()
}
