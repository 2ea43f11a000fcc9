package feeds

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"sterling/internal/domain/ledger"
)

// LegacySource marks rows imported from the retired desktop ledger.
const LegacySource = "legacy_import"

// appleEpochOffset converts Core Data timestamps (seconds since
// 2001-01-01 UTC) to Unix time.
const appleEpochOffset = 978307200

// LegacyParser reads the retired desktop ledger's SQLite export.
// Accounts maps the ledger's account names to canonical account refs;
// rows for unmapped accounts are skipped.
type LegacyParser struct {
	Institution string
	Currency    string
	Accounts    map[string]string
}

func (p *LegacyParser) ParseFile(path string) ([]*ledger.RawTransaction, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open legacy database: %w", err)
	}
	defer db.Close()

	query := `
		SELECT t.id, a.name, t.date, t.amount, t.payee, t.memo
		FROM txn t
		JOIN account a ON a.id = t.account_id
		ORDER BY t.date, t.id
	`

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query legacy transactions: %w", err)
	}
	defer rows.Close()

	var txns []*ledger.RawTransaction
	for rows.Next() {
		var nativeID int64
		var accountName string
		var rawDate, amount float64
		var payee, memo sql.NullString

		if err := rows.Scan(&nativeID, &accountName, &rawDate, &amount, &payee, &memo); err != nil {
			return nil, fmt.Errorf("failed to scan legacy transaction: %w", err)
		}

		accountRef, ok := p.Accounts[accountName]
		if !ok {
			continue
		}

		postedAt := time.Unix(int64(rawDate)+appleEpochOffset, 0).UTC().Truncate(24 * time.Hour)
		ref := fmt.Sprintf("legacy-%d", nativeID)
		rawPayload, _ := json.Marshal(map[string]any{
			"legacyId": nativeID,
			"account":  accountName,
		})

		txn := &ledger.RawTransaction{
			ID:             uuid.New(),
			Source:         LegacySource,
			Institution:    p.Institution,
			AccountRef:     accountRef,
			TransactionRef: &ref,
			PostedAt:       postedAt,
			// The legacy store kept amounts as floating point.
			Amount:      decimal.NewFromFloat(amount).Round(2),
			Currency:    p.Currency,
			RawMerchant: payee.String,
			RawData:     rawPayload,
		}
		if memo.Valid && memo.String != "" {
			memoText := memo.String
			txn.RawMemo = &memoText
		}
		txns = append(txns, txn)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating legacy transactions: %w", err)
	}

	return txns, nil
}
