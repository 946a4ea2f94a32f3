// Package fhirclient is a thin REST client for FHIR servers: it runs
// search queries against the standard search API and returns the matching
// records decoded for evaluation.  Paging and retries are handled here;
// everything beyond fetching records is the caller's concern.
package fhirclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/carequery/fhirpath"
	"go.uber.org/zap"
)

// Error reports a failed exchange with the FHIR server.
type Error struct {
	URL    string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fhir server: %s: %s", e.URL, e.Err)
	}
	return fmt.Sprintf("fhir server: %s: status %d", e.URL, e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// BasicAuth is a username/password pair for the server.
type BasicAuth struct {
	Username string
	Password string
}

// Connection talks to one FHIR server.  The zero value is unusable; create
// connections with NewConnection.
type Connection struct {
	base   string
	auth   *BasicAuth
	client *http.Client
	logger *zap.Logger

	// Retries and Backoff shape the retry schedule for transport errors
	// and retryable statuses.  The delay doubles after every attempt.
	Retries int
	Backoff time.Duration
}

// NewConnection returns a connection to the server at base, the URL under
// which the server exposes the FHIR search API.
func NewConnection(base string, opts ...Option) *Connection {
	c := &Connection{
		base:    base,
		client:  http.DefaultClient,
		logger:  zap.NewNop(),
		Retries: 3,
		Backoff: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type Option func(*Connection)

func WithAuth(auth BasicAuth) Option {
	return func(c *Connection) { c.auth = &auth }
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Connection) { c.client = client }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Connection) { c.logger = logger }
}

// Search runs one search query, such as "Patient?family=Chalmers", and
// returns the matching records across all result pages, following the
// bundle's next links.
func (c *Connection) Search(ctx context.Context, query string) ([]*fhirpath.Resource, error) {
	next := c.base + "/" + query
	var resources []*fhirpath.Resource
	for next != "" {
		bundle, err := c.fetch(ctx, next)
		if err != nil {
			return nil, err
		}
		for _, entry := range bundle.Entry {
			if len(entry.Resource) == 0 {
				continue
			}
			res, err := fhirpath.ParseResource(entry.Resource)
			if err != nil {
				return nil, &Error{URL: next, Err: err}
			}
			resources = append(resources, res)
		}
		next = bundle.link("next")
	}
	c.logger.Info("search complete",
		zap.String("query", query),
		zap.Int("resources", len(resources)))
	return resources, nil
}

// Read fetches one record by type and id.
func (c *Connection) Read(ctx context.Context, resourceType, id string) (*fhirpath.Resource, error) {
	target := c.base + "/" + resourceType + "/" + url.PathEscape(id)
	body, err := c.get(ctx, target)
	if err != nil {
		return nil, err
	}
	res, err := fhirpath.ParseResource(body)
	if err != nil {
		return nil, &Error{URL: target, Err: err}
	}
	return res, nil
}

// bundle is the slice of the FHIR Bundle wire form search decodes.
type bundle struct {
	ResourceType string `json:"resourceType"`
	Link         []struct {
		Relation string `json:"relation"`
		URL      string `json:"url"`
	} `json:"link"`
	Entry []struct {
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
}

func (b *bundle) link(relation string) string {
	for _, l := range b.Link {
		if l.Relation == relation {
			return l.URL
		}
	}
	return ""
}

func (c *Connection) fetch(ctx context.Context, target string) (*bundle, error) {
	body, err := c.get(ctx, target)
	if err != nil {
		return nil, err
	}
	var b bundle
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, &Error{URL: target, Err: fmt.Errorf("decoding bundle: %w", err)}
	}
	if b.ResourceType != "Bundle" {
		return nil, &Error{URL: target, Err: fmt.Errorf("expected a Bundle, got %q", b.ResourceType)}
	}
	return &b, nil
}

// get retrieves target, retrying transport errors and retryable statuses
// with exponential backoff.
func (c *Connection) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &Error{URL: target, Err: err}
	}
	req.Header.Set("Accept", "application/fhir+json")
	if c.auth != nil {
		req.SetBasicAuth(c.auth.Username, c.auth.Password)
	}
	backoff := c.Backoff
	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := c.client.Do(req)
		if err == nil {
			body, retryable, err := c.decode(resp, target)
			if !retryable {
				return body, err
			}
			lastErr = err
		} else {
			lastErr = &Error{URL: target, Err: err}
		}
		if attempt >= c.Retries {
			return nil, lastErr
		}
		if err := sleep(ctx, backoff); err != nil {
			return nil, &Error{URL: target, Err: err}
		}
		backoff *= 2
	}
}

func (c *Connection) decode(resp *http.Response, target string) ([]byte, bool, error) {
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return nil, true, &Error{URL: target, Status: resp.StatusCode}
	case resp.StatusCode >= 400:
		io.Copy(io.Discard, resp.Body)
		return nil, false, &Error{URL: target, Status: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, &Error{URL: target, Err: err}
	}
	return body, false, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
