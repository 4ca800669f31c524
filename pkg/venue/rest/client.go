// Package rest talks to a venue through an HTTP bridge process that fronts
// the broker's native API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"execution-core/pkg/venue"
)

const userAgent = "execution-core/bridge"

// Client is one bridge session, identified to the bridge by its client ID.
type Client struct {
	base     string
	hc       *http.Client
	clientID int
	log      *zap.Logger
}

var _ venue.Venue = (*Client)(nil)

func New(base string, clientID int, log *zap.Logger) *Client {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = "http://127.0.0.1:5000"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		base:     base,
		hc:       &http.Client{Timeout: 30 * time.Second},
		clientID: clientID,
		log:      log.With(zap.String("venue", "rest"), zap.Int("client_id", clientID)),
	}
}

// ClientID returns the session client ID.
func (c *Client) ClientID() int { return c.clientID }

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}
	u := c.base + path
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("newrequest %s: %w (url=%s)", path, err, u)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Client-Id", strconv.Itoa(c.clientID))
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		c.log.Warn("bridge rejected request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", res.StatusCode),
			zap.String("body", string(b)))
		return fmt.Errorf("%w: %s %s %d: %s", venue.ErrVenueRejected, method, path, res.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) ResolveContract(ctx context.Context, spec venue.ContractSpec) ([]venue.Contract, error) {
	var out []venue.Contract
	err := c.do(ctx, http.MethodPost, "/contracts/resolve", spec, &out)
	return out, err
}

func (c *Client) SubmitOrder(ctx context.Context, req venue.OrderRequest) (venue.OrderHandle, error) {
	var out venue.OrderHandle
	if err := c.do(ctx, http.MethodPost, "/orders", req, &out); err != nil {
		return venue.OrderHandle{}, err
	}
	if out.ClientID == 0 {
		out.ClientID = c.clientID
	}
	return out, nil
}

func (c *Client) CancelOrder(ctx context.Context, h venue.OrderHandle) error {
	return c.do(ctx, http.MethodDelete, "/orders/"+url.PathEscape(h.PermID), nil, nil)
}

func (c *Client) OpenOrders(ctx context.Context, account string) ([]venue.OpenOrder, error) {
	var out []venue.OpenOrder
	err := c.do(ctx, http.MethodGet, "/orders/open?account="+url.QueryEscape(account), nil, &out)
	return out, err
}

func (c *Client) Executions(ctx context.Context, h venue.OrderHandle) ([]venue.Execution, error) {
	var out []venue.Execution
	err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(h.PermID)+"/executions", nil, &out)
	return out, err
}

func (c *Client) HistoricalBars(ctx context.Context, req venue.BarRequest) ([]venue.Bar, error) {
	var out []venue.Bar
	err := c.do(ctx, http.MethodPost, "/history/bars", req, &out)
	return out, err
}

func (c *Client) Positions(ctx context.Context, account string) ([]venue.Position, error) {
	var out []venue.Position
	err := c.do(ctx, http.MethodGet, "/positions?account="+url.QueryEscape(account), nil, &out)
	return out, err
}

func (c *Client) AccountSummary(ctx context.Context, account string) ([]venue.AccountValue, error) {
	var out []venue.AccountValue
	err := c.do(ctx, http.MethodGet, "/accounts/"+url.PathEscape(account)+"/summary", nil, &out)
	return out, err
}
