package stacksledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"sepdex/internal/domain"
	"sepdex/internal/ports"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// Client implements the ports.Ledger interface against a Stacks-style testnet
// custody/RPC API. Ledger amounts travel in micro-units (1 STX = 1,000,000
// uSTX); the conversion happens here so the rest of the engine works in whole
// settlement asset units.
type Client struct {
	http     *resty.Client
	contract string
	logger   ports.Logger
}

// Config holds configuration specific to the ledger adapter.
type Config struct {
	BaseURL  string
	Contract string        // DEX contract identifier for the fallback paths
	Timeout  time.Duration // Bound on any single API call
	Logger   ports.Logger
}

// New creates a new ledger adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for ledger client")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required for ledger client: %w", ports.ErrConfigurationError)
	}
	if cfg.Contract == "" {
		return nil, fmt.Errorf("contract identifier is required for ledger client: %w", ports.ErrConfigurationError)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:     httpClient,
		contract: cfg.Contract,
		logger:   cfg.Logger,
	}, nil
}

// toMicroUnits converts a settlement asset amount to integer micro-units.
func toMicroUnits(amount float64) int64 {
	return decimal.NewFromFloat(amount).
		Mul(decimal.NewFromInt(domain.MicroUnitsPerToken)).
		Round(0).
		IntPart()
}

// fromMicroUnits converts integer micro-units to a settlement asset amount.
func fromMicroUnits(micro decimal.Decimal) float64 {
	value, _ := micro.Div(decimal.NewFromInt(domain.MicroUnitsPerToken)).Float64()
	return value
}

type transferRequest struct {
	AmountMicro int64  `json:"amount_ustx"`
	From        string `json:"from"`
	To          string `json:"to"`
	Signature   string `json:"signature"`
}

type contractCallRequest struct {
	Function    string `json:"function"`
	AmountMicro int64  `json:"amount_ustx"`
	Sender      string `json:"sender"`
	Recipient   string `json:"recipient,omitempty"`
	Signature   string `json:"signature"`
}

type txResponse struct {
	TxID  string `json:"txid"`
	Error string `json:"error,omitempty"`
}

type balanceResponse struct {
	BalanceMicro decimal.Decimal `json:"balance"`
}

// sign produces the hex-encoded signature the custody API expects over the
// canonical JSON encoding of the request body (minus the signature field).
func sign(cred ports.SigningCredential, body interface{}) (string, error) {
	if cred == nil {
		return "", fmt.Errorf("no signing credential supplied: %w", ports.ErrSigningFailed)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode signing payload: %w", err)
	}
	sig, err := cred.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ports.ErrSigningFailed, err)
	}
	return hex.EncodeToString(sig), nil
}

// handleResponse maps API failures onto standardized ports errors.
func (c *Client) handleResponse(ctx context.Context, resp *resty.Response, body *txResponse, operation string) (string, error) {
	fields := map[string]interface{}{"operation": operation, "status": resp.StatusCode()}

	if resp.IsError() || body.Error != "" {
		reason := body.Error
		if reason == "" {
			reason = strings.TrimSpace(resp.String())
		}
		fields["reason"] = reason

		var mappedErr error
		switch {
		case resp.StatusCode() == http.StatusTooManyRequests:
			mappedErr = ports.ErrRateLimited
		case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
			mappedErr = ports.ErrAuthenticationFailed
		case resp.StatusCode() >= http.StatusInternalServerError:
			mappedErr = ports.ErrLedgerUnavailable
		case strings.Contains(strings.ToLower(reason), "insufficient"):
			mappedErr = ports.ErrInsufficientFunds
		default:
			mappedErr = ports.ErrTransferRejected
		}

		err := fmt.Errorf("%s rejected by ledger (%d): %s: %w", operation, resp.StatusCode(), reason, mappedErr)
		c.logger.Error(ctx, err, operation+" failed", fields)
		return "", err
	}

	if body.TxID == "" {
		err := fmt.Errorf("%s returned no transaction id: %w", operation, ports.ErrUnknown)
		c.logger.Error(ctx, err, operation+" failed", fields)
		return "", err
	}

	c.logger.Debug(ctx, operation+" accepted", map[string]interface{}{"txID": body.TxID})
	return body.TxID, nil
}

// Transfer moves tokens directly between addresses. Primary settlement path.
func (c *Client) Transfer(ctx context.Context, amount float64, from, to string, cred ports.SigningCredential) (string, error) {
	op := "Transfer"

	req := transferRequest{AmountMicro: toMicroUnits(amount), From: from, To: to}
	sig, err := sign(cred, req)
	if err != nil {
		return "", err
	}
	req.Signature = sig

	var body txResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&body).
		SetError(&body).
		Post("/v1/stx/transfer")
	if err != nil {
		return "", c.transportError(ctx, err, op)
	}
	return c.handleResponse(ctx, resp, &body, op)
}

// ContractDeposit posts collateral through the DEX contract. Fallback path
// when a direct transfer fails.
func (c *Client) ContractDeposit(ctx context.Context, amount float64, sender string, cred ports.SigningCredential) (string, error) {
	return c.contractCall(ctx, "ContractDeposit", contractCallRequest{
		Function:    "deposit-collateral",
		AmountMicro: toMicroUnits(amount),
		Sender:      sender,
	}, cred)
}

// ContractPayout releases profit through the DEX contract. Fallback path when
// a direct treasury transfer fails.
func (c *Client) ContractPayout(ctx context.Context, amount float64, recipient string, cred ports.SigningCredential) (string, error) {
	return c.contractCall(ctx, "ContractPayout", contractCallRequest{
		Function:    "payout-profit",
		AmountMicro: toMicroUnits(amount),
		Recipient:   recipient,
	}, cred)
}

func (c *Client) contractCall(ctx context.Context, op string, req contractCallRequest, cred ports.SigningCredential) (string, error) {
	sig, err := sign(cred, req)
	if err != nil {
		return "", err
	}
	req.Signature = sig

	var body txResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&body).
		SetError(&body).
		Post(fmt.Sprintf("/v1/contracts/%s/call", c.contract))
	if err != nil {
		return "", c.transportError(ctx, err, op)
	}
	return c.handleResponse(ctx, resp, &body, op)
}

// BalanceOf retrieves the spendable balance of an address in settlement asset units.
func (c *Client) BalanceOf(ctx context.Context, address string) (float64, error) {
	op := "BalanceOf"

	var body balanceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&body).
		Get(fmt.Sprintf("/v1/address/%s/balance", address))
	if err != nil {
		return 0, c.transportError(ctx, err, op)
	}
	if resp.IsError() {
		if resp.StatusCode() == http.StatusNotFound {
			// An address the chain has never seen has a zero balance.
			return 0, nil
		}
		return 0, fmt.Errorf("%s failed (%d): %s: %w", op, resp.StatusCode(), strings.TrimSpace(resp.String()), ports.ErrLedgerUnavailable)
	}
	return fromMicroUnits(body.BalanceMicro), nil
}

// transportError maps network-level failures onto standardized ports errors.
func (c *Client) transportError(ctx context.Context, err error, operation string) error {
	var finalErr error
	switch {
	case strings.Contains(err.Error(), "context deadline exceeded"):
		finalErr = fmt.Errorf("%s timed out: %w: %w", operation, ports.ErrTimeout, err)
	case strings.Contains(err.Error(), "context canceled"):
		finalErr = fmt.Errorf("%s canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	}
	c.logger.Error(ctx, err, operation+" transport failure", map[string]interface{}{"operation": operation})
	return finalErr
}
