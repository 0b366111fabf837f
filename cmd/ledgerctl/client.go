package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/atmx/outcome-ledger/internal/market"
	"github.com/atmx/outcome-ledger/internal/model"
	"github.com/atmx/outcome-ledger/internal/portfolio"
	"github.com/atmx/outcome-ledger/internal/respond"
	"github.com/atmx/outcome-ledger/internal/settlement"
)

// Client talks to the ledger REST API with an admin bearer token.
type Client struct {
	client *resty.Client
}

// NewClient creates a client for host. Lock-timeout responses (503) are
// retried up to retries times; the server guarantees nothing was applied.
func NewClient(host, token string, retries int) *Client {
	host = strings.TrimSuffix(host, "/")

	client := resty.New().
		SetBaseURL(host+"/api/v1").
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/json").
		SetRetryCount(retries).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return resp != nil && resp.StatusCode() == http.StatusServiceUnavailable
		})
	if token != "" {
		client.SetAuthToken(token)
	}
	return &Client{client: client}
}

// APIError is a non-2xx response from the ledger.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req := c.client.R().SetContext(ctx).SetError(&respond.ErrorBody{})
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr := &APIError{Status: resp.StatusCode(), Code: "http_error", Message: resp.Status()}
		if eb, ok := resp.Error().(*respond.ErrorBody); ok && eb.Code != "" {
			apiErr.Code, apiErr.Message = eb.Code, eb.Error
		}
		return apiErr
	}
	return nil
}

func (c *Client) ListMarkets(ctx context.Context, category string) ([]model.Market, error) {
	var out []model.Market
	path := "/markets"
	if category != "" {
		path += "?category=" + category
	}
	return out, c.do(ctx, http.MethodGet, path, nil, &out)
}

func (c *Client) CreateMarket(ctx context.Context, p market.CreateParams) (*model.Market, error) {
	var out model.Market
	return &out, c.do(ctx, http.MethodPost, "/markets", p, &out)
}

func (c *Client) CloseMarket(ctx context.Context, id string) (*model.Market, error) {
	var out model.Market
	return &out, c.do(ctx, http.MethodPost, "/markets/"+id+"/close", nil, &out)
}

func (c *Client) SetPrices(ctx context.Context, id string, yes, no int64) (*model.Market, error) {
	var out model.Market
	body := market.PricesRequest{YesPrice: &yes, NoPrice: &no}
	return &out, c.do(ctx, http.MethodPut, "/markets/"+id+"/prices", body, &out)
}

func (c *Client) Resolve(ctx context.Context, id string, outcome model.Outcome) (*settlement.ResolveResponse, error) {
	var out settlement.ResolveResponse
	return &out, c.do(ctx, http.MethodPost, "/markets/"+id+"/resolve", settlement.ResolveRequest{Outcome: outcome}, &out)
}

func (c *Client) ListUsers(ctx context.Context) ([]model.User, error) {
	var out []model.User
	return out, c.do(ctx, http.MethodGet, "/users", nil, &out)
}

func (c *Client) Reconcile(ctx context.Context, userID string) (*portfolio.Reconciliation, error) {
	var out portfolio.Reconciliation
	return &out, c.do(ctx, http.MethodGet, "/users/"+userID+"/reconcile", nil, &out)
}
