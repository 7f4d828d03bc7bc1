package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearclaim/agent/internal/claim"
	"github.com/clearclaim/agent/internal/shared/errors"
)

// PostgresStore implements Store using PostgreSQL. The unique index on
// source_message_id enforces idempotent ingestion at the database level.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed claim store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const claimColumns = `
	id, source_message_id, bill_image_path,
	provider_name, patient_name, service_date, total_amount, currency,
	diagnosis_codes, treatment_description, receipt_number, additional_info,
	status, external_claim_number, error_message,
	settlement_amount, settlement_currency,
	created_at, updated_at`

// Insert persists a new claim and returns its assigned id.
func (s *PostgresStore) Insert(ctx context.Context, c *claim.Claim) (int64, error) {
	codesJSON, err := json.Marshal(c.Bill.DiagnosisCodes)
	if err != nil {
		return 0, errors.Wrap(err, "failed to marshal diagnosis codes")
	}
	var infoJSON []byte
	if c.Bill.AdditionalInfo != nil {
		infoJSON, err = json.Marshal(c.Bill.AdditionalInfo)
		if err != nil {
			return 0, errors.Wrap(err, "failed to marshal additional info")
		}
	}

	query := `
		INSERT INTO claims (
			source_message_id, bill_image_path,
			provider_name, patient_name, service_date, total_amount, currency,
			diagnosis_codes, treatment_description, receipt_number, additional_info,
			status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		) RETURNING id`

	var id int64
	err = s.pool.QueryRow(ctx, query,
		c.SourceMessageID, c.BillImagePath,
		c.Bill.ProviderName, c.Bill.PatientName, c.Bill.ServiceDate, c.Bill.TotalAmount, c.Bill.Currency,
		codesJSON, c.Bill.TreatmentDescription, nullString(c.Bill.ReceiptNumber), infoJSON,
		c.Status, c.CreatedAt, c.UpdatedAt,
	).Scan(&id)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return 0, errors.Conflict("claim with this source message id already exists")
		}
		return 0, errors.Wrap(err, "failed to insert claim")
	}

	c.ID = id
	return id, nil
}

// Get returns a claim by id.
func (s *PostgresStore) Get(ctx context.Context, id int64) (*claim.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE id = $1`
	c, err := scanClaim(s.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("claim", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get claim")
	}
	return c, nil
}

// ListByStatus returns claims in the given status, newest-created first.
func (s *PostgresStore) ListByStatus(ctx context.Context, status claim.Status) ([]*claim.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE status = $1 ORDER BY created_at DESC, id DESC`
	rows, err := s.pool.Query(ctx, query, status)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list claims by status")
	}
	defer rows.Close()
	return collectClaims(rows)
}

// ListAll returns every claim, newest-created first.
func (s *PostgresStore) ListAll(ctx context.Context) ([]*claim.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims ORDER BY created_at DESC, id DESC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list claims")
	}
	defer rows.Close()
	return collectClaims(rows)
}

// UpdateStatus atomically sets the status and applies the patch. The update
// runs in a transaction with the row locked so concurrent workers cannot
// interleave partial writes to the same claim.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id int64, status claim.Status, patch Update) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	var currentNumber *string
	err = tx.QueryRow(ctx,
		`SELECT external_claim_number FROM claims WHERE id = $1 FOR UPDATE`, id,
	).Scan(&currentNumber)
	if err == pgx.ErrNoRows {
		return errors.NotFound("claim", id)
	}
	if err != nil {
		return errors.Wrap(err, "failed to lock claim for update")
	}

	sets := []string{"status = $1", "updated_at = NOW()"}
	args := []any{status}
	arg := 2

	if patch.ExternalClaimNumber != nil {
		if currentNumber != nil && *currentNumber != "" && *currentNumber != *patch.ExternalClaimNumber {
			return errors.Validation("external claim number is immutable once set", map[string]string{
				"current":   *currentNumber,
				"attempted": *patch.ExternalClaimNumber,
			})
		}
		sets = append(sets, fmt.Sprintf("external_claim_number = $%d", arg))
		args = append(args, *patch.ExternalClaimNumber)
		arg++
	}
	if patch.ErrorMessage != nil {
		sets = append(sets, fmt.Sprintf("error_message = $%d", arg))
		args = append(args, *patch.ErrorMessage)
		arg++
	} else if patch.ClearError {
		sets = append(sets, "error_message = NULL")
	}
	if patch.SettlementAmount != nil {
		sets = append(sets, fmt.Sprintf("settlement_amount = $%d", arg))
		args = append(args, *patch.SettlementAmount)
		arg++
	}
	if patch.SettlementCurrency != nil {
		sets = append(sets, fmt.Sprintf("settlement_currency = $%d", arg))
		args = append(args, *patch.SettlementCurrency)
		arg++
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE claims SET %s WHERE id = $%d", strings.Join(sets, ", "), arg)
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return errors.Wrap(err, "failed to update claim status")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit claim update")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClaim(row rowScanner) (*claim.Claim, error) {
	var c claim.Claim
	var codesJSON []byte
	var infoJSON []byte
	var receiptNumber, externalNumber, errorMessage, settlementCurrency *string
	var settlementAmount *float64

	err := row.Scan(
		&c.ID, &c.SourceMessageID, &c.BillImagePath,
		&c.Bill.ProviderName, &c.Bill.PatientName, &c.Bill.ServiceDate, &c.Bill.TotalAmount, &c.Bill.Currency,
		&codesJSON, &c.Bill.TreatmentDescription, &receiptNumber, &infoJSON,
		&c.Status, &externalNumber, &errorMessage,
		&settlementAmount, &settlementCurrency,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(codesJSON) > 0 {
		if err := json.Unmarshal(codesJSON, &c.Bill.DiagnosisCodes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal diagnosis codes: %w", err)
		}
	}
	if len(infoJSON) > 0 {
		if err := json.Unmarshal(infoJSON, &c.Bill.AdditionalInfo); err != nil {
			return nil, fmt.Errorf("failed to unmarshal additional info: %w", err)
		}
	}
	if receiptNumber != nil {
		c.Bill.ReceiptNumber = *receiptNumber
	}
	if externalNumber != nil {
		c.ExternalClaimNumber = *externalNumber
	}
	if errorMessage != nil {
		c.ErrorMessage = *errorMessage
	}
	c.SettlementAmount = settlementAmount
	if settlementCurrency != nil {
		c.SettlementCurrency = *settlementCurrency
	}
	return &c, nil
}

func collectClaims(rows pgx.Rows) ([]*claim.Claim, error) {
	var claims []*claim.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan claim")
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read claims")
	}
	return claims, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
