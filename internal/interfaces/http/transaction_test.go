package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sterling/internal/domain/ledger"
)

// MockTransactionStore implements TransactionStore for testing
type MockTransactionStore struct {
	GetActiveFunc  func(ctx context.Context, id uuid.UUID) (*ledger.RawTransaction, error)
	ListActiveFunc func(ctx context.Context, filter ledger.ActiveFilter) ([]*ledger.RawTransaction, error)
}

func (m *MockTransactionStore) GetActive(ctx context.Context, id uuid.UUID) (*ledger.RawTransaction, error) {
	if m.GetActiveFunc != nil {
		return m.GetActiveFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockTransactionStore) ListActive(ctx context.Context, filter ledger.ActiveFilter) ([]*ledger.RawTransaction, error) {
	if m.ListActiveFunc != nil {
		return m.ListActiveFunc(ctx, filter)
	}
	return nil, nil
}

func testTransaction() *ledger.RawTransaction {
	return &ledger.RawTransaction{
		ID:          uuid.New(),
		Source:      "bank_api",
		Institution: "acme_bank",
		AccountRef:  "CHK-1",
		PostedAt:    time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		Amount:      decimal.RequireFromString("-42.50"),
		Currency:    "GBP",
		RawMerchant: "COFFEE SHOP",
	}
}

func TestHandleListTransactions(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		url            string
		mockStore      func() *MockTransactionStore
		expectedStatus int
		expectedLen    int
	}{
		{
			name:   "Success",
			method: http.MethodGet,
			url:    "/api/v1/transactions",
			mockStore: func() *MockTransactionStore {
				return &MockTransactionStore{
					ListActiveFunc: func(ctx context.Context, filter ledger.ActiveFilter) ([]*ledger.RawTransaction, error) {
						return []*ledger.RawTransaction{testTransaction(), testTransaction()}, nil
					},
				}
			},
			expectedStatus: http.StatusOK,
			expectedLen:    2,
		},
		{
			name:   "Empty List",
			method: http.MethodGet,
			url:    "/api/v1/transactions",
			mockStore: func() *MockTransactionStore {
				return &MockTransactionStore{}
			},
			expectedStatus: http.StatusOK,
			expectedLen:    0,
		},
		{
			name:   "Repository Error",
			method: http.MethodGet,
			url:    "/api/v1/transactions",
			mockStore: func() *MockTransactionStore {
				return &MockTransactionStore{
					ListActiveFunc: func(ctx context.Context, filter ledger.ActiveFilter) ([]*ledger.RawTransaction, error) {
						return nil, errors.New("db error")
					},
				}
			},
			expectedStatus: http.StatusInternalServerError,
		},
		{
			name:   "Method Not Allowed",
			method: http.MethodPost,
			url:    "/api/v1/transactions",
			mockStore: func() *MockTransactionStore {
				return &MockTransactionStore{}
			},
			expectedStatus: http.StatusMethodNotAllowed,
		},
		{
			name:   "Bad From Date",
			method: http.MethodGet,
			url:    "/api/v1/transactions?from=03-10-2024",
			mockStore: func() *MockTransactionStore {
				return &MockTransactionStore{}
			},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewTransactionHandler(tt.mockStore())

			req := httptest.NewRequest(tt.method, tt.url, nil)
			rec := httptest.NewRecorder()
			handler.HandleListTransactions(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.expectedStatus)
			}
			if tt.expectedStatus != http.StatusOK {
				return
			}

			var txns []*ledger.RawTransaction
			if err := json.NewDecoder(rec.Body).Decode(&txns); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if len(txns) != tt.expectedLen {
				t.Errorf("len(txns) = %d, want %d", len(txns), tt.expectedLen)
			}
		})
	}
}

func TestHandleListTransactions_FilterParams(t *testing.T) {
	var got ledger.ActiveFilter
	store := &MockTransactionStore{
		ListActiveFunc: func(ctx context.Context, filter ledger.ActiveFilter) ([]*ledger.RawTransaction, error) {
			got = filter
			return nil, nil
		},
	}
	handler := NewTransactionHandler(store)

	url := "/api/v1/transactions?institution=acme_bank&accountRef=CHK-1&source=bank_api&from=2024-01-01&to=2024-03-31&limit=10&offset=20"
	req := httptest.NewRequest(http.MethodGet, url, nil)
	handler.HandleListTransactions(httptest.NewRecorder(), req)

	if got.Institution != "acme_bank" || got.AccountRef != "CHK-1" || got.Source != "bank_api" {
		t.Errorf("filter identity = (%q, %q, %q), want query params", got.Institution, got.AccountRef, got.Source)
	}
	if want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC); !got.From.Equal(want) {
		t.Errorf("From = %v, want %v", got.From, want)
	}
	if got.Limit != 10 || got.Offset != 20 {
		t.Errorf("pagination = (%d, %d), want (10, 20)", got.Limit, got.Offset)
	}
}

func TestHandleListTransactions_DefaultLimit(t *testing.T) {
	var got ledger.ActiveFilter
	store := &MockTransactionStore{
		ListActiveFunc: func(ctx context.Context, filter ledger.ActiveFilter) ([]*ledger.RawTransaction, error) {
			got = filter
			return nil, nil
		},
	}
	handler := NewTransactionHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions", nil)
	handler.HandleListTransactions(httptest.NewRecorder(), req)

	if got.Limit != 50 {
		t.Errorf("Limit = %d, want default 50", got.Limit)
	}
}

func TestHandleGetTransaction(t *testing.T) {
	known := testTransaction()

	tests := []struct {
		name           string
		id             string
		mockStore      func() *MockTransactionStore
		expectedStatus int
	}{
		{
			name: "Success",
			id:   known.ID.String(),
			mockStore: func() *MockTransactionStore {
				return &MockTransactionStore{
					GetActiveFunc: func(ctx context.Context, id uuid.UUID) (*ledger.RawTransaction, error) {
						if id != known.ID {
							t.Errorf("id = %v, want %v", id, known.ID)
						}
						return known, nil
					},
				}
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "Not Found",
			id:   uuid.New().String(),
			mockStore: func() *MockTransactionStore {
				return &MockTransactionStore{}
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name: "Invalid ID",
			id:   "not-a-uuid",
			mockStore: func() *MockTransactionStore {
				return &MockTransactionStore{}
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "Repository Error",
			id:   uuid.New().String(),
			mockStore: func() *MockTransactionStore {
				return &MockTransactionStore{
					GetActiveFunc: func(ctx context.Context, id uuid.UUID) (*ledger.RawTransaction, error) {
						return nil, errors.New("db error")
					},
				}
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewTransactionHandler(tt.mockStore())

			req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions/"+tt.id, nil)
			req.SetPathValue("id", tt.id)
			rec := httptest.NewRecorder()
			handler.HandleGetTransaction(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.expectedStatus)
			}
		})
	}
}
