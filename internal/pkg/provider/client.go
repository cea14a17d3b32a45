package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stashpoint/settled/internal/pkg/apperr"
	"github.com/stashpoint/settled/internal/pkg/env"
)

const defaultProviderAPIBaseURL = "https://api.payhive.example/v1"

const insufficientBalanceCode = "INSUFFICIENT_BALANCE"

// SellerDetails is the registration payload sent to the payout provider.
type SellerDetails struct {
	RefSellerID  string `json:"refSellerId"`
	BusinessType string `json:"businessType"`
	StoreName    string `json:"storeName"`
}

// PayoutRequest asks the provider to transfer a settlement to a seller. The
// idempotency key is derived from the settlement identity so provider-side
// retries collapse onto one payout.
type PayoutRequest struct {
	SellerID       string
	Amount         decimal.Decimal
	IdempotencyKey string
}

// Client is the payout-provider surface the settlement core depends on.
// Both calls may fail with apperr KindProvider or KindInsufficientBalance;
// transport failures surface as retryable KindProcessing.
type Client interface {
	RegisterSeller(ctx context.Context, details SellerDetails) (string, error)
	RequestPayout(ctx context.Context, req PayoutRequest) (string, error)
}

// HTTPClient talks to the provider's REST API.
type HTTPClient struct {
	APIBaseURL string
	APIKey     string

	HTTP *http.Client
}

// NewHTTPClientFromEnv builds the client from environment configuration. The
// request timeout bounds every provider call; expiry is treated upstream as a
// transient failure subject to the normal retry policy.
func NewHTTPClientFromEnv() *HTTPClient {
	timeoutSec, err := strconv.Atoi(env.GetEnv("PROVIDER_TIMEOUT_SECONDS", "10"))
	if err != nil || timeoutSec <= 0 {
		timeoutSec = 10
	}

	return &HTTPClient{
		APIBaseURL: strings.TrimRight(env.GetEnv("PROVIDER_API_BASE_URL", defaultProviderAPIBaseURL), "/"),
		APIKey:     strings.TrimSpace(env.GetEnv("PROVIDER_API_KEY", "")),
		HTTP: &http.Client{
			Timeout: time.Duration(timeoutSec) * time.Second,
		},
	}
}

// RegisterSeller creates (or resolves) the provider-side seller for a store.
func (c *HTTPClient) RegisterSeller(ctx context.Context, details SellerDetails) (string, error) {
	if strings.TrimSpace(details.RefSellerID) == "" {
		return "", apperr.Validation("invalid seller registration", map[string]string{
			"ref_seller_id": "ref seller id is required",
		})
	}

	var out struct {
		SellerID string `json:"sellerId"`
	}
	if err := c.do(ctx, http.MethodPost, "/sellers", "", details, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SellerID) == "" {
		return "", apperr.Provider("EMPTY_SELLER_ID", "provider returned no seller id")
	}
	return out.SellerID, nil
}

// RequestPayout submits a settlement payout.
func (c *HTTPClient) RequestPayout(ctx context.Context, req PayoutRequest) (string, error) {
	if strings.TrimSpace(req.SellerID) == "" || strings.TrimSpace(req.IdempotencyKey) == "" {
		return "", apperr.Validation("invalid payout request", map[string]string{
			"seller_id":       "seller id is required",
			"idempotency_key": "idempotency key is required",
		})
	}

	body := map[string]string{
		"sellerId": req.SellerID,
		"amount":   req.Amount.String(),
	}
	var out struct {
		PayoutID string `json:"payoutId"`
	}
	if err := c.do(ctx, http.MethodPost, "/payouts", req.IdempotencyKey, body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.PayoutID) == "" {
		return "", apperr.Provider("EMPTY_PAYOUT_ID", "provider returned no payout id")
	}
	return out.PayoutID, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path, idempotencyKey string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return apperr.Processing("provider encode", false, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.APIBaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return apperr.Processing("provider request", false, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		// Timeouts and transport failures are transient by policy.
		return apperr.Processing("provider request", true, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return apperr.Processing("provider decode", true, err)
		}
		return nil
	}

	return classifyError(resp.StatusCode, body)
}

// classifyError turns a provider error response into the taxonomy. Anything
// without a recognizable body keeps the status code as the provider code.
func classifyError(status int, body []byte) error {
	var raw struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Requested string `json:"requested"`
		Available string `json:"available"`
	}
	if err := json.Unmarshal(body, &raw); err != nil || raw.Code == "" {
		if status >= 500 {
			return apperr.Processing("provider request", true,
				errors.New("provider error status "+strconv.Itoa(status)))
		}
		return apperr.Provider(fmt.Sprintf("HTTP_%d", status), strings.TrimSpace(string(body)))
	}

	if raw.Code == insufficientBalanceCode {
		return apperr.InsufficientBalance(raw.Requested, raw.Available)
	}
	if status >= 500 {
		return apperr.Processing("provider request", true, errors.New(raw.Code+": "+raw.Message))
	}
	return apperr.Provider(raw.Code, raw.Message)
}
