package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stashpoint/settled/internal/pkg/apperr"
)

func newTestClient(srv *httptest.Server) *HTTPClient {
	return &HTTPClient{
		APIBaseURL: srv.URL,
		APIKey:     "pk_test",
		HTTP:       srv.Client(),
	}
}

func TestRegisterSeller(t *testing.T) {
	var gotAuth string
	var gotBody SellerDetails

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/sellers" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"sellerId": "acct_123"})
	}))
	defer srv.Close()

	c := newTestClient(srv)
	sellerID, err := c.RegisterSeller(context.Background(), SellerDetails{
		RefSellerID:  "42",
		BusinessType: "INDIVIDUAL",
		StoreName:    "Box & Lock",
	})
	if err != nil {
		t.Fatalf("RegisterSeller failed: %v", err)
	}
	if sellerID != "acct_123" {
		t.Fatalf("sellerID = %s, want acct_123", sellerID)
	}
	if gotAuth != "Bearer pk_test" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotBody.RefSellerID != "42" {
		t.Fatalf("refSellerId = %q, want 42", gotBody.RefSellerID)
	}
}

func TestRegisterSellerRequiresRef(t *testing.T) {
	c := &HTTPClient{APIBaseURL: "http://unused", HTTP: http.DefaultClient}
	if _, err := c.RegisterSeller(context.Background(), SellerDetails{}); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRequestPayoutSendsIdempotencyKey(t *testing.T) {
	var gotKey string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payouts" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		gotKey = r.Header.Get("Idempotency-Key")
		json.NewEncoder(w).Encode(map[string]string{"payoutId": "po_500"})
	}))
	defer srv.Close()

	c := newTestClient(srv)
	payoutID, err := c.RequestPayout(context.Background(), PayoutRequest{
		SellerID:       "acct_123",
		Amount:         decimal.NewFromInt(9000),
		IdempotencyKey: "settle-abc",
	})
	if err != nil {
		t.Fatalf("RequestPayout failed: %v", err)
	}
	if payoutID != "po_500" {
		t.Fatalf("payoutID = %s, want po_500", payoutID)
	}
	if gotKey != "settle-abc" {
		t.Fatalf("Idempotency-Key = %q, want settle-abc", gotKey)
	}
}

func TestRequestPayoutErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantKind   apperr.Kind
		wantRetry  bool
		checkRetry bool
	}{
		{
			name:     "insufficient balance",
			status:   http.StatusUnprocessableEntity,
			body:     `{"code":"INSUFFICIENT_BALANCE","requested":"9000","available":"120"}`,
			wantKind: apperr.KindInsufficientBalance,
		},
		{
			name:     "provider rejection",
			status:   http.StatusUnprocessableEntity,
			body:     `{"code":"PAYOUT_REJECTED","message":"destination closed"}`,
			wantKind: apperr.KindProvider,
		},
		{
			name:       "server error with code",
			status:     http.StatusInternalServerError,
			body:       `{"code":"UPSTREAM_DOWN","message":"try later"}`,
			wantKind:   apperr.KindProcessing,
			wantRetry:  true,
			checkRetry: true,
		},
		{
			name:       "server error without body",
			status:     http.StatusBadGateway,
			body:       ``,
			wantKind:   apperr.KindProcessing,
			wantRetry:  true,
			checkRetry: true,
		},
		{
			name:     "client error without code",
			status:   http.StatusBadRequest,
			body:     `bad request`,
			wantKind: apperr.KindProvider,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := newTestClient(srv)
			_, err := c.RequestPayout(context.Background(), PayoutRequest{
				SellerID:       "acct_123",
				Amount:         decimal.NewFromInt(9000),
				IdempotencyKey: "settle-abc",
			})
			if !apperr.IsKind(err, tt.wantKind) {
				t.Fatalf("kind = %v, want %v (err: %v)", apperr.KindOf(err), tt.wantKind, err)
			}
			if tt.checkRetry {
				if e := apperr.From(err); e.Retryable != tt.wantRetry {
					t.Fatalf("retryable = %t, want %t", e.Retryable, tt.wantRetry)
				}
			}
		})
	}
}

func TestRequestPayoutInsufficientBalanceAmounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"code":"INSUFFICIENT_BALANCE","requested":"9000","available":"120"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.RequestPayout(context.Background(), PayoutRequest{
		SellerID:       "acct_123",
		Amount:         decimal.NewFromInt(9000),
		IdempotencyKey: "settle-abc",
	})

	e := apperr.From(err)
	if e.RequestedAmount != "9000" || e.AvailableAmount != "120" {
		t.Fatalf("balance amounts lost: %+v", e)
	}
}

func TestTransportFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	c.HTTP = &http.Client{Timeout: 5 * time.Millisecond}

	_, err := c.RequestPayout(context.Background(), PayoutRequest{
		SellerID:       "acct_123",
		Amount:         decimal.NewFromInt(100),
		IdempotencyKey: "settle-x",
	})
	if !apperr.IsKind(err, apperr.KindProcessing) {
		t.Fatalf("expected processing error, got %v", err)
	}
	if !apperr.From(err).Retryable {
		t.Fatalf("transport failures must be retryable")
	}
}

func TestRequestPayoutValidation(t *testing.T) {
	c := &HTTPClient{APIBaseURL: "http://unused", HTTP: http.DefaultClient}

	_, err := c.RequestPayout(context.Background(), PayoutRequest{Amount: decimal.NewFromInt(1)})
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
