package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rampbridge/internal/application"

	"github.com/shopspring/decimal"
)

// Client talks to the fiat payment processor's REST API. Every create
// carries an Idempotency-Key header, so replaying a request after a lost
// response returns the original resource instead of a duplicate.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("processor url is required")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("processor api key is required")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type transferPayload struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Reference     string `json:"reference"`
	Amount        string `json:"amount"`
	FailureReason string `json:"failure_reason,omitempty"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) CreateTransfer(ctx context.Context, req application.TransferRequest) (application.Transfer, error) {
	body := map[string]any{
		"bank_code":      req.BankCode,
		"account_number": req.AccountNumber,
		"amount":         req.Amount.String(),
		"currency":       req.Currency,
		"reference":      req.Reference,
		"narration":      req.Narration,
	}
	var payload transferPayload
	if err := c.do(ctx, http.MethodPost, "/transfers", req.IdempotencyKey, body, &payload); err != nil {
		return application.Transfer{}, err
	}
	return toTransfer(payload)
}

func (c *Client) GetTransfer(ctx context.Context, id string) (application.Transfer, error) {
	var payload transferPayload
	if err := c.do(ctx, http.MethodGet, "/transfers/"+url.PathEscape(id), "", nil, &payload); err != nil {
		return application.Transfer{}, err
	}
	return toTransfer(payload)
}

func (c *Client) FindTransferByReference(ctx context.Context, reference string) (application.Transfer, bool, error) {
	var payload transferPayload
	err := c.do(ctx, http.MethodGet, "/transfers?reference="+url.QueryEscape(reference), "", nil, &payload)
	if err != nil {
		var procErr *application.ProcessorError
		if errors.As(err, &procErr) && procErr.StatusCode == http.StatusNotFound {
			return application.Transfer{}, false, nil
		}
		return application.Transfer{}, false, err
	}
	transfer, err := toTransfer(payload)
	if err != nil {
		return application.Transfer{}, false, err
	}
	return transfer, true, nil
}

type virtualAccountPayload struct {
	AccountNumber string `json:"account_number"`
	BankName      string `json:"bank_name"`
	Reference     string `json:"reference"`
	ExpiresAt     int64  `json:"expires_at"`
}

func (c *Client) CreateVirtualAccount(ctx context.Context, req application.VirtualAccountRequest) (application.VirtualAccount, error) {
	body := map[string]any{
		"reference":      req.Reference,
		"customer_id":    req.CustomerID,
		"amount":         req.Amount.String(),
		"currency":       req.Currency,
		"expiry_seconds": int64(req.Expiry / time.Second),
	}
	var payload virtualAccountPayload
	if err := c.do(ctx, http.MethodPost, "/virtual-accounts", req.Reference, body, &payload); err != nil {
		return application.VirtualAccount{}, err
	}
	return application.VirtualAccount{
		AccountNumber: payload.AccountNumber,
		BankName:      payload.BankName,
		Reference:     payload.Reference,
		ExpiresAt:     time.Unix(payload.ExpiresAt, 0),
	}, nil
}

type chargePayload struct {
	ID            string `json:"id"`
	Reference     string `json:"reference"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
}

func (c *Client) VerifyCharge(ctx context.Context, chargeID string) (application.Charge, error) {
	var payload chargePayload
	if err := c.do(ctx, http.MethodGet, "/charges/"+url.PathEscape(chargeID), "", nil, &payload); err != nil {
		return application.Charge{}, err
	}
	return application.Charge{
		ID:            payload.ID,
		Reference:     payload.Reference,
		Status:        application.ChargeStatus(payload.Status),
		FailureReason: payload.FailureReason,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr errorPayload
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&apiErr)
		return &application.ProcessorError{
			StatusCode: resp.StatusCode,
			Code:       apiErr.Code,
			Message:    apiErr.Message,
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func toTransfer(payload transferPayload) (application.Transfer, error) {
	amount := decimal.Zero
	if payload.Amount != "" {
		var err error
		amount, err = decimal.NewFromString(payload.Amount)
		if err != nil {
			return application.Transfer{}, fmt.Errorf("parse transfer amount %q: %w", payload.Amount, err)
		}
	}
	return application.Transfer{
		ID:            payload.ID,
		Status:        application.TransferStatus(payload.Status),
		Reference:     payload.Reference,
		Amount:        amount,
		FailureReason: payload.FailureReason,
	}, nil
}
