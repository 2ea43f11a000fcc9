package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"sterling/internal/domain/ledger"
)

type LedgerRepository struct {
	db *DB
}

func NewLedgerRepository(db *DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// InsertBatch writes the rows in one transaction. Rows whose natural key
// (institution, account_ref, transaction_ref) already exists are counted
// as skipped, so re-importing a file is a no-op.
func (r *LedgerRepository) InsertBatch(ctx context.Context, txns []*ledger.RawTransaction) (int, int, error) {
	if len(txns) == 0 {
		return 0, 0, nil
	}

	query := `
		INSERT INTO raw_transaction (id, source, institution, account_ref, transaction_ref,
		                             posted_at, amount, currency, raw_merchant, raw_memo, raw_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (institution, account_ref, transaction_ref) WHERE transaction_ref IS NOT NULL
		DO NOTHING
	`

	var inserted, skipped int
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, txn := range txns {
			if txn.ID == uuid.Nil {
				txn.ID = uuid.New()
			}
			rawData := txn.RawData
			if len(rawData) == 0 {
				rawData = json.RawMessage(`{}`)
			}

			result, err := tx.ExecContext(ctx, query,
				txn.ID, txn.Source, txn.Institution, txn.AccountRef, txn.TransactionRef,
				txn.PostedAt, txn.Amount, txn.Currency, txn.RawMerchant, txn.RawMemo,
				[]byte(rawData),
			)
			if err != nil {
				return fmt.Errorf("failed to insert transaction: %w", err)
			}

			n, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get affected rows: %w", err)
			}
			if n == 1 {
				inserted++
			} else {
				skipped++
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	return inserted, skipped, nil
}

func (r *LedgerRepository) GetActive(ctx context.Context, id uuid.UUID) (*ledger.RawTransaction, error) {
	query := `
		SELECT id, source, institution, account_ref, transaction_ref, posted_at,
		       amount, currency, raw_merchant, raw_memo, raw_data, created_at
		FROM active_transaction
		WHERE id = $1
	`

	var txn ledger.RawTransaction
	var transactionRef, rawMemo sql.NullString
	var rawData []byte

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&txn.ID, &txn.Source, &txn.Institution, &txn.AccountRef, &transactionRef,
		&txn.PostedAt, &txn.Amount, &txn.Currency, &txn.RawMerchant, &rawMemo,
		&rawData, &txn.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil // Not found or suppressed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	if transactionRef.Valid {
		txn.TransactionRef = &transactionRef.String
	}
	if rawMemo.Valid {
		txn.RawMemo = &rawMemo.String
	}
	txn.RawData = json.RawMessage(rawData)

	return &txn, nil
}

func (r *LedgerRepository) ListActive(ctx context.Context, filter ledger.ActiveFilter) ([]*ledger.RawTransaction, error) {
	var conditions []string
	var args []any

	add := func(cond string, val any) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if filter.Institution != "" {
		add("institution = $%d", filter.Institution)
	}
	if filter.AccountRef != "" {
		add("account_ref = $%d", filter.AccountRef)
	}
	if filter.Source != "" {
		add("source = $%d", filter.Source)
	}
	if !filter.From.IsZero() {
		add("posted_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("posted_at <= $%d", filter.To)
	}

	query := `
		SELECT id, source, institution, account_ref, transaction_ref, posted_at,
		       amount, currency, raw_merchant, raw_memo, raw_data, created_at
		FROM active_transaction
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY posted_at DESC, created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txns []*ledger.RawTransaction
	for rows.Next() {
		var txn ledger.RawTransaction
		var transactionRef, rawMemo sql.NullString
		var rawData []byte

		err := rows.Scan(
			&txn.ID, &txn.Source, &txn.Institution, &txn.AccountRef, &transactionRef,
			&txn.PostedAt, &txn.Amount, &txn.Currency, &txn.RawMerchant, &rawMemo,
			&rawData, &txn.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}

		if transactionRef.Valid {
			txn.TransactionRef = &transactionRef.String
		}
		if rawMemo.Valid {
			txn.RawMemo = &rawMemo.String
		}
		txn.RawData = json.RawMessage(rawData)

		txns = append(txns, &txn)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return txns, nil
}

func (r *LedgerRepository) UpsertAlias(ctx context.Context, alias ledger.Alias) error {
	query := `
		INSERT INTO account_alias (institution, account_ref, canonical_ref)
		VALUES ($1, $2, $3)
		ON CONFLICT (institution, account_ref)
		DO UPDATE SET canonical_ref = EXCLUDED.canonical_ref
	`

	if _, err := r.db.ExecContext(ctx, query, alias.Institution, alias.AccountRef, alias.CanonicalRef); err != nil {
		return fmt.Errorf("failed to upsert account alias: %w", err)
	}
	return nil
}
