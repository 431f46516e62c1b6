// Package client is a Go client for the DID HTTP API. Failure envelopes are
// turned back into domain errors so callers can switch on dErrors codes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"didledger/internal/did/handler"
	"didledger/internal/did/models"
	"didledger/internal/did/service"
	dErrors "didledger/pkg/domain-errors"
)

// Client calls a didledger server.
type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// New returns a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Create(ctx context.Context, signingKey string, services []models.Service) (*models.Document, error) {
	var doc models.Document
	err := c.do(ctx, http.MethodPost, "/did", handler.CreateRequest{SigningKey: signingKey, Services: services}, &doc)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Client) Resolve(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	if err := c.do(ctx, http.MethodGet, didPath(id), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Client) Update(ctx context.Context, id string, auth service.Authorization, doc *models.Document) (*models.Document, error) {
	req := handler.UpdateRequest{SigningKey: auth.SigningKey, Proof: auth.Proof, Document: doc}
	var out models.Document
	if err := c.do(ctx, http.MethodPut, didPath(id), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Deactivate(ctx context.Context, id string, auth service.Authorization) error {
	req := handler.DeactivateRequest{SigningKey: auth.SigningKey, Proof: auth.Proof}
	return c.do(ctx, http.MethodDelete, didPath(id), req, nil)
}

func (c *Client) History(ctx context.Context, id string) ([]models.Operation, error) {
	var ops []models.Operation
	if err := c.do(ctx, http.MethodGet, didPath(id)+"/history", nil, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

func didPath(id string) string {
	return "/did/" + url.PathEscape(id)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeGatewayUnavailable, "server unreachable")
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if !env.Success {
		if env.Error == nil {
			return fmt.Errorf("request failed with status %d", resp.StatusCode)
		}
		return dErrors.New(dErrors.FromNumeric(env.Error.Code), env.Error.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
