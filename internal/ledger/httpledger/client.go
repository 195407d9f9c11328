// Package httpledger talks to the ledger's HTTP facade.
//
// Routes:
//
//	POST /tandas                 create
//	GET  /tandas?status=&wallet= list
//	GET  /tandas/{id}            get
//	POST /tandas/{id}/join       {"wallet"}
//	POST /tandas/{id}/start      {"wallet"}
//	POST /tandas/{id}/deposits   {"wallet","proof"}
//	POST /tandas/{id}/advance
//	POST /tandas/{id}/leave      {"wallet"}
//	POST /wallets/{address}/contributions {"tandaId","amount"}
//
// Error responses carry {"error": "..."}; the status code picks the
// tanda.Error code. 402 on a contribution means insufficient funds.
package httpledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/tandasync/internal/ledger"
	"github.com/roach88/tandasync/internal/tanda"
)

// DefaultTimeout bounds a request when the caller's context has no deadline.
const DefaultTimeout = 30 * time.Second

// Client implements ledger.Ledger over HTTP+JSON.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
}

var _ ledger.Ledger = (*Client)(nil)

// New creates a client for baseURL. A nil httpClient gets one with
// DefaultTimeout.
func New(baseURL string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse ledger url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("ledger url %q: scheme must be http or https", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{base: u, http: httpClient, logger: logger}, nil
}

type walletBody struct {
	Wallet string `json:"wallet"`
}

type depositBody struct {
	Wallet string       `json:"wallet"`
	Proof  ledger.Proof `json:"proof"`
}

type contributionBody struct {
	TandaID string          `json:"tandaId"`
	Amount  decimal.Decimal `json:"amount"`
}

type errorBody struct {
	Error string `json:"error"`
}

// CreateTanda implements ledger.Ledger.
func (c *Client) CreateTanda(ctx context.Context, req tanda.CreateRequest) (tanda.Tanda, error) {
	var t tanda.Tanda
	err := c.do(ctx, http.MethodPost, "/tandas", req, &t)
	return t, err
}

// JoinTanda implements ledger.Ledger.
func (c *Client) JoinTanda(ctx context.Context, id, wallet string) (tanda.Tanda, error) {
	var t tanda.Tanda
	err := c.do(ctx, http.MethodPost, tandaPath(id, "join"), walletBody{Wallet: wallet}, &t)
	return t, err
}

// StartTanda implements ledger.Ledger.
func (c *Client) StartTanda(ctx context.Context, id, wallet string) (tanda.Tanda, error) {
	var t tanda.Tanda
	err := c.do(ctx, http.MethodPost, tandaPath(id, "start"), walletBody{Wallet: wallet}, &t)
	return t, err
}

// GetTanda implements ledger.Ledger.
func (c *Client) GetTanda(ctx context.Context, id string) (tanda.Tanda, error) {
	var t tanda.Tanda
	err := c.do(ctx, http.MethodGet, tandaPath(id, ""), nil, &t)
	return t, err
}

// GetTandas implements ledger.Ledger.
func (c *Client) GetTandas(ctx context.Context, filter ledger.Filter) ([]tanda.Tanda, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.Wallet != "" {
		q.Set("wallet", filter.Wallet)
	}
	p := "/tandas"
	if len(q) > 0 {
		p += "?" + q.Encode()
	}
	var ts []tanda.Tanda
	if err := c.do(ctx, http.MethodGet, p, nil, &ts); err != nil {
		return nil, err
	}
	if ts == nil {
		ts = []tanda.Tanda{}
	}
	return ts, nil
}

// ConfirmDeposit implements ledger.Ledger.
func (c *Client) ConfirmDeposit(ctx context.Context, id, wallet string, proof ledger.Proof) (tanda.Tanda, error) {
	var t tanda.Tanda
	err := c.do(ctx, http.MethodPost, tandaPath(id, "deposits"), depositBody{Wallet: wallet, Proof: proof}, &t)
	return t, err
}

// Advance implements ledger.Ledger.
func (c *Client) Advance(ctx context.Context, id string) (ledger.AdvanceResult, error) {
	var res ledger.AdvanceResult
	err := c.do(ctx, http.MethodPost, tandaPath(id, "advance"), nil, &res)
	return res, err
}

// LeaveTanda implements ledger.Ledger.
func (c *Client) LeaveTanda(ctx context.Context, id, wallet string) error {
	return c.do(ctx, http.MethodPost, tandaPath(id, "leave"), walletBody{Wallet: wallet}, nil)
}

// Wallet is a custodial wallet held behind the same facade.
type Wallet struct {
	c       *Client
	address string
}

var _ ledger.Wallet = (*Wallet)(nil)

// Wallet returns the facade wallet for address.
func (c *Client) Wallet(address string) *Wallet {
	return &Wallet{c: c, address: address}
}

// Address implements ledger.Wallet.
func (w *Wallet) Address() string {
	return w.address
}

// Contribute implements ledger.Wallet.
func (w *Wallet) Contribute(ctx context.Context, t tanda.Tanda) (ledger.Proof, error) {
	var p ledger.Proof
	err := w.c.do(ctx, http.MethodPost, "/wallets/"+url.PathEscape(w.address)+"/contributions",
		contributionBody{TandaID: t.ID, Amount: t.Amount}, &p)
	return p, err
}

func tandaPath(id, action string) string {
	p := "/tandas/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	op := method + " " + path

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("ledger request failed", "op", op, "error", err)
		return tanda.NewTransientError(op, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("ledger request",
		"op", op,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode >= 300 {
		return statusError(op, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return tanda.NewTransientError(op+": decode response", err)
	}
	return nil
}

func statusError(op string, resp *http.Response) error {
	var eb errorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &eb); err != nil || eb.Error == "" {
		eb.Error = strings.TrimSpace(string(data))
	}
	if eb.Error == "" {
		eb.Error = http.StatusText(resp.StatusCode)
	}

	cause := errors.New(eb.Error)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &tanda.Error{Code: tanda.CodeNotFound, Message: op, Err: cause}
	case resp.StatusCode == http.StatusConflict:
		return &tanda.Error{Code: tanda.CodeConflict, Message: op, Err: cause}
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnprocessableEntity:
		return &tanda.Error{Code: tanda.CodeValidation, Message: op, Err: cause}
	case resp.StatusCode == http.StatusPaymentRequired:
		return tanda.NewTransientError(op, fmt.Errorf("%w: %w", ledger.ErrInsufficientFunds, cause))
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return tanda.NewTransientError(op, fmt.Errorf("status %d: %w", resp.StatusCode, cause))
	default:
		return &tanda.Error{Code: tanda.CodeInvariant, Message: fmt.Sprintf("%s: unexpected status %d", op, resp.StatusCode), Err: cause}
	}
}
