package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type MockLedgerRepo struct {
	InsertBatchFunc func(ctx context.Context, txns []*RawTransaction) (int, int, error)
	GetActiveFunc   func(ctx context.Context, id uuid.UUID) (*RawTransaction, error)
	ListActiveFunc  func(ctx context.Context, filter ActiveFilter) ([]*RawTransaction, error)
	UpsertAliasFunc func(ctx context.Context, alias Alias) error
}

func (m *MockLedgerRepo) InsertBatch(ctx context.Context, txns []*RawTransaction) (int, int, error) {
	if m.InsertBatchFunc != nil {
		return m.InsertBatchFunc(ctx, txns)
	}
	return 0, 0, nil
}
func (m *MockLedgerRepo) GetActive(ctx context.Context, id uuid.UUID) (*RawTransaction, error) {
	if m.GetActiveFunc != nil {
		return m.GetActiveFunc(ctx, id)
	}
	return nil, nil
}
func (m *MockLedgerRepo) ListActive(ctx context.Context, filter ActiveFilter) ([]*RawTransaction, error) {
	if m.ListActiveFunc != nil {
		return m.ListActiveFunc(ctx, filter)
	}
	return nil, nil
}
func (m *MockLedgerRepo) UpsertAlias(ctx context.Context, alias Alias) error {
	if m.UpsertAliasFunc != nil {
		return m.UpsertAliasFunc(ctx, alias)
	}
	return nil
}

type mockParser struct {
	ParseFileFunc func(path string) ([]*RawTransaction, error)
}

func (m *mockParser) ParseFile(path string) ([]*RawTransaction, error) {
	if m.ParseFileFunc != nil {
		return m.ParseFileFunc(path)
	}
	return nil, nil
}

func TestNewImportServiceWithWorkers(t *testing.T) {
	repo := &MockLedgerRepo{}

	svc := NewImportServiceWithWorkers(repo, 8, zerolog.Nop())
	if svc.workerCount != 8 {
		t.Errorf("workerCount = %d, want 8", svc.workerCount)
	}

	// Zero should default
	svc = NewImportServiceWithWorkers(repo, 0, zerolog.Nop())
	if svc.workerCount != DefaultImportWorkers {
		t.Errorf("workerCount = %d, want %d for zero input", svc.workerCount, DefaultImportWorkers)
	}
}

func TestImportFiles_Empty(t *testing.T) {
	repo := &MockLedgerRepo{}
	svc := NewImportService(repo, zerolog.Nop())

	result := svc.ImportFiles(context.Background(), &mockParser{}, nil)

	if result.FilesProcessed != 0 {
		t.Errorf("FilesProcessed = %d, want 0", result.FilesProcessed)
	}
	if result.Inserted != 0 {
		t.Errorf("Inserted = %d, want 0", result.Inserted)
	}
}

func TestImportFiles_AggregatesCounts(t *testing.T) {
	repo := &MockLedgerRepo{
		InsertBatchFunc: func(ctx context.Context, txns []*RawTransaction) (int, int, error) {
			return len(txns), 1, nil
		},
	}
	svc := NewImportServiceWithWorkers(repo, 2, zerolog.Nop())

	parser := &mockParser{
		ParseFileFunc: func(path string) ([]*RawTransaction, error) {
			return []*RawTransaction{{}, {}, {}}, nil
		},
	}

	result := svc.ImportFiles(context.Background(), parser, []string{"a.csv", "b.csv"})

	if result.FilesProcessed != 2 {
		t.Errorf("FilesProcessed = %d, want 2", result.FilesProcessed)
	}
	if result.Inserted != 6 {
		t.Errorf("Inserted = %d, want 6", result.Inserted)
	}
	if result.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", result.Skipped)
	}
	if len(result.Errors) != 0 {
		t.Errorf("Errors = %v, want empty", result.Errors)
	}
}

func TestImportFiles_ParserErrorRecorded(t *testing.T) {
	repo := &MockLedgerRepo{
		InsertBatchFunc: func(ctx context.Context, txns []*RawTransaction) (int, int, error) {
			return len(txns), 0, nil
		},
	}
	svc := NewImportService(repo, zerolog.Nop())

	parser := &mockParser{
		ParseFileFunc: func(path string) ([]*RawTransaction, error) {
			if path == "bad.csv" {
				return nil, errors.New("malformed header")
			}
			return []*RawTransaction{{}}, nil
		},
	}

	result := svc.ImportFiles(context.Background(), parser, []string{"good.csv", "bad.csv"})

	if result.Inserted != 1 {
		t.Errorf("Inserted = %d, want 1", result.Inserted)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("Errors length = %d, want 1", len(result.Errors))
	}
	if !strings.Contains(result.Errors[0], "bad.csv") {
		t.Errorf("error %q should name the failing file", result.Errors[0])
	}
}

func TestImportFiles_RepoErrorRecorded(t *testing.T) {
	repo := &MockLedgerRepo{
		InsertBatchFunc: func(ctx context.Context, txns []*RawTransaction) (int, int, error) {
			return 0, 0, errors.New("db down")
		},
	}
	svc := NewImportService(repo, zerolog.Nop())

	parser := &mockParser{
		ParseFileFunc: func(path string) ([]*RawTransaction, error) {
			return []*RawTransaction{{}}, nil
		},
	}

	result := svc.ImportFiles(context.Background(), parser, []string{"a.csv"})

	if result.Inserted != 0 {
		t.Errorf("Inserted = %d, want 0", result.Inserted)
	}
	if len(result.Errors) != 1 {
		t.Errorf("Errors length = %d, want 1", len(result.Errors))
	}
}
