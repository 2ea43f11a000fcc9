package feeds

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sterling/internal/domain/ledger"
)

// csvLayout identifies which bank export shape a file carries.
type csvLayout int

const (
	layoutUnknown csvLayout = iota
	// Date, Description, Amount, Balance
	layoutDateAmountBalance
	// Date, Description, Amount, Reference
	layoutDateAmountReference
	// TransactionDate, Description, Value, AccountBalance, AccountName, AccountNumber
	layoutSavings
)

// CSVParser reads bank statement exports into raw ledger rows. The layout
// is recognised from the header row, so one parser handles every export
// shape an institution produces.
type CSVParser struct {
	Source      string
	Institution string
	AccountRef  string
	Currency    string
}

func (p *CSVParser) ParseFile(path string) ([]*ledger.RawTransaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv file: %w", err)
	}
	defer f.Close()

	return p.parse(f)
}

func (p *CSVParser) parse(r io.Reader) ([]*ledger.RawTransaction, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	layout := detectLayout(header)
	if layout == layoutUnknown {
		return nil, fmt.Errorf("unrecognised csv header: %s", strings.Join(header, ","))
	}

	var txns []*ledger.RawTransaction
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv record: %w", err)
		}
		line++

		txn, err := p.parseRecord(layout, header, record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		txns = append(txns, txn)
	}

	return txns, nil
}

func detectLayout(header []string) csvLayout {
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = strings.ToLower(strings.TrimSpace(h))
	}
	joined := strings.Join(cols, ",")

	switch {
	case strings.HasPrefix(joined, "date,description,amount,balance"):
		return layoutDateAmountBalance
	case strings.HasPrefix(joined, "date,description,amount,reference"):
		return layoutDateAmountReference
	case strings.HasPrefix(joined, "transactiondate,description,value"):
		return layoutSavings
	}
	return layoutUnknown
}

func (p *CSVParser) parseRecord(layout csvLayout, header, record []string) (*ledger.RawTransaction, error) {
	switch layout {
	case layoutDateAmountBalance:
		return p.parseStatementRecord(header, record, false)
	case layoutDateAmountReference:
		return p.parseStatementRecord(header, record, true)
	case layoutSavings:
		return p.parseSavingsRecord(header, record)
	}
	return nil, fmt.Errorf("unrecognised csv layout")
}

func (p *CSVParser) parseStatementRecord(header, record []string, hasReference bool) (*ledger.RawTransaction, error) {
	postedAt, err := time.Parse("02/01/2006", strings.TrimSpace(record[0]))
	if err != nil {
		return nil, fmt.Errorf("failed to parse date %q: %w", record[0], err)
	}

	description := strings.TrimSpace(record[1])
	amount, err := parseAmount(record[2])
	if err != nil {
		return nil, err
	}

	ref := ""
	if hasReference {
		ref = strings.TrimSpace(record[3])
	}
	if ref == "" {
		ref = syntheticRef(record[0], record[2], description)
	}

	return &ledger.RawTransaction{
		ID:             uuid.New(),
		Source:         p.Source,
		Institution:    p.Institution,
		AccountRef:     p.AccountRef,
		TransactionRef: &ref,
		PostedAt:       postedAt,
		Amount:         amount,
		Currency:       p.Currency,
		RawMerchant:    description,
		RawData:        rawData(header, record),
	}, nil
}

func (p *CSVParser) parseSavingsRecord(header, record []string) (*ledger.RawTransaction, error) {
	postedAt, err := time.Parse("20060102", strings.TrimSpace(record[0]))
	if err != nil {
		return nil, fmt.Errorf("failed to parse date %q: %w", record[0], err)
	}

	description := strings.TrimSpace(record[1])
	amount, err := parseAmount(record[2])
	if err != nil {
		return nil, err
	}

	accountRef := p.AccountRef
	if len(record) > 5 && strings.TrimSpace(record[5]) != "" {
		accountRef = strings.TrimSpace(record[5])
	}

	// The running balance disambiguates repeated same-day rows, so it
	// goes into the synthesised ref.
	balance := ""
	if len(record) > 3 {
		balance = record[3]
	}
	ref := syntheticRef(record[0], record[2], description, balance)

	return &ledger.RawTransaction{
		ID:             uuid.New(),
		Source:         p.Source,
		Institution:    p.Institution,
		AccountRef:     accountRef,
		TransactionRef: &ref,
		PostedAt:       postedAt,
		Amount:         amount,
		Currency:       p.Currency,
		RawMerchant:    description,
		RawData:        rawData(header, record),
	}, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to parse amount %q: %w", raw, err)
	}
	return amount, nil
}

// syntheticRef derives a stable ref for exports that carry none, so
// re-importing the same file skips rows already inserted.
func syntheticRef(parts ...string) string {
	trimmed := make([]string, len(parts))
	for i, part := range parts {
		trimmed[i] = strings.TrimSpace(part)
	}
	sum := sha256.Sum256([]byte(strings.Join(trimmed, "|")))
	return hex.EncodeToString(sum[:])[:16]
}

// rawData keeps the whole export row as a column-keyed payload.
func rawData(header, record []string) json.RawMessage {
	payload := make(map[string]string, len(header))
	for i, col := range header {
		if i < len(record) {
			payload[strings.TrimSpace(col)] = strings.TrimSpace(record[i])
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
