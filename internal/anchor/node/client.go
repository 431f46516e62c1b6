// Package node talks to the blockchain bridge service that fronts the
// registry contract over plain HTTP.
package node

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"didledger/internal/anchor"
	"didledger/internal/did/keys"
	"didledger/internal/did/models"
)

const maxErrorBody = 512

// Gateway posts events to the bridge.
type Gateway struct {
	baseURL string
	http    *http.Client
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		g.http = c
	}
}

// New creates a gateway for the bridge at baseURL.
func New(baseURL string, opts ...Option) (*Gateway, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("node: invalid base URL %q", baseURL)
	}
	g := &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Gateway) Name() string { return "node" }

type txResponse struct {
	Hash   string `json:"hash"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// Anchor sends the event to the bridge endpoint for its kind.
func (g *Gateway) Anchor(ctx context.Context, ev anchor.Event) error {
	path, contentType, body, err := requestFor(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("node: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	var out txResponse
	if err := g.do(req, &out); err != nil {
		return err
	}
	if out.Status != "success" {
		return fmt.Errorf("node: %s %s: transaction %s status %q", path, ev.DID, out.Hash, out.Status)
	}
	return nil
}

// Status asks the bridge whether did is active on chain.
func (g *Gateway) Status(ctx context.Context, did string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/did/"+url.PathEscape(did)+"/status", nil)
	if err != nil {
		return false, fmt.Errorf("node: build request: %w", err)
	}
	var out struct {
		Active bool `json:"active"`
	}
	if err := g.do(req, &out); err != nil {
		return false, err
	}
	return out.Active, nil
}

func (g *Gateway) do(req *http.Request, out any) error {
	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("node: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("node: %s %s: HTTP %d: %s", req.Method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("node: decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

// requestFor encodes an event the way the bridge expects: register takes the
// DID, a NUL byte and the raw public key; store takes the document JSON;
// deactivate takes the bare DID.
func requestFor(ev anchor.Event) (path, contentType string, body []byte, err error) {
	switch ev.Kind {
	case models.OperationCreate:
		pub, err := keys.DecodePublicKey(ev.PublicKeyBase58)
		if err != nil {
			return "", "", nil, fmt.Errorf("node: event %s: %w", ev.ID, err)
		}
		body = append(append([]byte(ev.DID), 0), pub...)
		return "/did/register", "application/octet-stream", body, nil
	case models.OperationUpdate:
		if ev.Document == nil {
			return "", "", nil, errors.New("node: update event carries no document")
		}
		body, err = json.Marshal(ev.Document)
		if err != nil {
			return "", "", nil, fmt.Errorf("node: marshal document: %w", err)
		}
		return "/did/store", "application/json", body, nil
	case models.OperationDeactivate:
		return "/did/deactivate", "text/plain", []byte(ev.DID), nil
	default:
		return "", "", nil, fmt.Errorf("node: event %s: unknown kind %q", ev.ID, ev.Kind)
	}
}
