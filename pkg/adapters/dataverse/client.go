// Package dataverse implements ports.RecordStore over an OData v4 Web API
// such as Microsoft Dataverse.
package dataverse

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

	"github.com/aretw0/productflow/internal/logging"
	"github.com/aretw0/productflow/pkg/ports"
	"golang.org/x/time/rate"
)

const defaultTimeout = 30 * time.Second

// TokenSource returns the bearer token for a request.
type TokenSource func(ctx context.Context) (string, error)

// Client is an OData record store. Collections map to entity sets, by
// default with the same name.
type Client struct {
	baseURL    string
	http       *http.Client
	token      TokenSource
	limiter    *rate.Limiter
	entitySets map[string]string
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithToken uses a static bearer token.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = func(context.Context) (string, error) {
			return token, nil
		}
	}
}

// WithTokenSource resolves the bearer token per request.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) {
		c.token = ts
	}
}

// WithRateLimiter throttles every request through l. The limiter belongs to
// this client; share it between clients to throttle them together.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithEntitySets maps collection names to entity set names.
func WithEntitySets(sets map[string]string) Option {
	return func(c *Client) {
		for k, v := range sets {
			c.entitySets[k] = v
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client for the Web API rooted at baseURL,
// e.g. https://org.crm.dynamics.com/api/data/v9.2.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host are required", baseURL)
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		http:       &http.Client{Timeout: defaultTimeout},
		entitySets: make(map[string]string),
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) entitySet(collection string) string {
	if set, ok := c.entitySets[collection]; ok {
		return set
	}
	return collection
}

// Create posts a record and returns the id from the OData-EntityId header.
// ports.Reference values become "<field>@odata.bind" entries.
func (c *Client) Create(ctx context.Context, collection string, fields ports.Fields) (string, error) {
	body := make(map[string]any, len(fields))
	for k, v := range fields {
		if ref, ok := v.(ports.Reference); ok {
			body[k+"@odata.bind"] = fmt.Sprintf("/%s(%s)", c.entitySet(ref.Collection), ref.ID)
			continue
		}
		body[k] = v
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s record: %w", collection, err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/"+c.entitySet(collection), data)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusCreated {
		return "", readAPIError(resp)
	}

	id, err := parseEntityID(resp.Header.Get("OData-EntityId"))
	if err != nil {
		return "", fmt.Errorf("create %s: %w", collection, err)
	}

	c.logger.Debug("Record created", "collection", collection, "id", id)
	return id, nil
}

// Delete removes a record. A missing record yields ports.ErrRecordNotFound.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/%s(%s)", c.entitySet(collection), id), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		c.logger.Debug("Record deleted", "collection", collection, "id", id)
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%s(%s): %w", collection, id, ports.ErrRecordNotFound)
	default:
		return readAPIError(resp)
	}
}

// Exists queries for one record whose field equals value.
func (c *Client) Exists(ctx context.Context, collection, field, value string) (bool, error) {
	filter := fmt.Sprintf("%s eq '%s'", field, strings.ReplaceAll(value, "'", "''"))
	query := "$select=" + queryEscape(field) + "&$filter=" + queryEscape(filter) + "&$top=1"

	resp, err := c.do(ctx, http.MethodGet, "/"+c.entitySet(collection)+"?"+query, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, readAPIError(resp)
	}

	var page struct {
		Value []json.RawMessage `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return false, fmt.Errorf("failed to decode %s query: %w", collection, err)
	}
	return len(page.Value) > 0, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("OData-Version", "4.0")
	req.Header.Set("OData-MaxVersion", "4.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to obtain token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func queryEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// parseEntityID extracts the key from ".../products(<id>)".
func parseEntityID(header string) (string, error) {
	if header == "" {
		return "", errors.New("response carries no OData-EntityId header")
	}
	open := strings.LastIndex(header, "(")
	if open < 0 || !strings.HasSuffix(header, ")") || open+1 >= len(header)-1 {
		return "", fmt.Errorf("malformed OData-EntityId %q", header)
	}
	return header[open+1 : len(header)-1], nil
}
