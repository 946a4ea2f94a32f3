package terminology

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// DefaultServices routes value-set URL domains to public terminology
// services.
var DefaultServices = map[string]string{
	"hl7.org":             "https://tx.fhir.org/r4/",
	"terminology.hl7.org": "https://tx.fhir.org/r4/",
	"loinc.org":           "https://fhir.loinc.org",
	"cts.nlm.nih.gov":     "http://cts.nlm.nih.gov/fhir/",
}

// BasicAuth is a username/password pair for one terminology service.
type BasicAuth struct {
	Username string
	Password string
}

// ServiceError reports a failed exchange with a terminology service.  It is
// distinct from "value set not found", which Expand reports as a nil
// result.
type ServiceError struct {
	URL     string // value-set URL being expanded
	Service string
	Status  int
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("terminology service %s: expanding %s: %s", e.Service, e.URL, e.Err)
	}
	return fmt.Sprintf("terminology service %s: expanding %s: status %d", e.Service, e.URL, e.Status)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// ServiceClient expands value sets against remote terminology services,
// choosing the service by the domain of the value-set URL.  The zero value
// uses DefaultServices, http.DefaultClient, and a three-retry exponential
// backoff schedule.
type ServiceClient struct {
	// Services maps value-set URL domains to service base URLs.  Nil
	// means DefaultServices.
	Services map[string]string
	// Auth holds basic-auth credentials keyed by service base URL.
	Auth map[string]BasicAuth
	// HTTPClient overrides http.DefaultClient when non-nil.
	HTTPClient *http.Client
	Logger     *zap.Logger
	// Retries and Backoff shape the retry schedule for transport errors
	// and retryable statuses.  The delay doubles after every attempt.
	Retries int
	Backoff time.Duration
}

var _ Resolver = (*ServiceClient)(nil)

// Expand requests the expansion from the service responsible for the URL's
// domain, paginating until all codes are retrieved.  URLs with no routable
// domain defer with a nil result.
func (c *ServiceClient) Expand(ctx context.Context, vsURL string) (*ValueSet, error) {
	plain, version := ParseURLVersion(vsURL)
	service, ok := c.serviceFor(plain)
	if !ok {
		c.logger().Warn("no terminology service for value set domain",
			zap.String("url", plain))
		return nil, nil
	}
	return c.expand(ctx, service, plain, version)
}

// ExpandAt expands the value set against a specific terminology service
// instead of routing by domain.
func (c *ServiceClient) ExpandAt(ctx context.Context, service, vsURL string) (*ValueSet, error) {
	plain, version := ParseURLVersion(vsURL)
	return c.expand(ctx, service, plain, version)
}

func (c *ServiceClient) serviceFor(vsURL string) (string, bool) {
	u, err := url.Parse(vsURL)
	if err != nil {
		return "", false
	}
	services := c.Services
	if services == nil {
		services = DefaultServices
	}
	base, ok := services[u.Host]
	return base, ok
}

func (c *ServiceClient) expand(ctx context.Context, service, vsURL, version string) (*ValueSet, error) {
	endpoint, err := url.JoinPath(service, "ValueSet/$expand")
	if err != nil {
		return nil, &ServiceError{URL: vsURL, Service: service, Err: err}
	}
	c.logger().Info("expanding value set via terminology service",
		zap.String("url", vsURL),
		zap.String("version", version),
		zap.String("service", service))

	var codes []Coding
	offset := 0
	for {
		page, err := c.fetch(ctx, service, endpoint, vsURL, version, offset)
		if err != nil || page == nil {
			return nil, err
		}
		if page.Expansion == nil {
			page.Expansion = &Expansion{}
		}
		codes = append(codes, page.Expansion.Contains...)
		offset += len(page.Expansion.Contains)
		if page.Expansion.Total == 0 || offset >= page.Expansion.Total || len(page.Expansion.Contains) == 0 {
			page.Expansion.Contains = codes
			page.Expansion.Offset = 0
			// Some services do not echo the URL or version back.
			page.URL = vsURL
			if version != "" {
				page.Version = version
			}
			c.logger().Info("retrieved value set expansion",
				zap.String("url", vsURL),
				zap.String("service", service),
				zap.Int("codes", len(codes)))
			return page, nil
		}
	}
}

// fetch retrieves one expansion page, retrying transport errors and
// retryable statuses with exponential backoff.  A 404 reports value set not
// found with a nil page.
func (c *ServiceClient) fetch(ctx context.Context, service, endpoint, vsURL, version string, offset int) (*ValueSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &ServiceError{URL: vsURL, Service: service, Err: err}
	}
	q := req.URL.Query()
	q.Set("url", vsURL)
	if version != "" {
		q.Set("valueSetVersion", version)
	}
	q.Set("offset", strconv.Itoa(offset))
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")
	if auth, ok := c.Auth[service]; ok {
		req.SetBasicAuth(auth.Username, auth.Password)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	retries := c.Retries
	if retries == 0 {
		retries = 3
	}
	backoff := c.Backoff
	if backoff == 0 {
		backoff = 2 * time.Second
	}
	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := client.Do(req)
		if err == nil {
			vs, retryable, err := c.decode(resp, service, vsURL)
			if !retryable {
				return vs, err
			}
			lastErr = err
		} else {
			lastErr = &ServiceError{URL: vsURL, Service: service, Err: err}
		}
		if attempt >= retries {
			return nil, lastErr
		}
		if err := sleep(ctx, backoff); err != nil {
			return nil, &ServiceError{URL: vsURL, Service: service, Err: err}
		}
		backoff *= 2
	}
}

// decode consumes one response.  Server-side and rate-limit statuses are
// retryable; other failures are final.
func (c *ServiceClient) decode(resp *http.Response, service, vsURL string) (*ValueSet, bool, error) {
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return nil, false, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger().Error("terminology service error",
			zap.String("url", vsURL),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return nil, true, &ServiceError{URL: vsURL, Service: service, Status: resp.StatusCode}
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger().Error("terminology service error",
			zap.String("url", vsURL),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return nil, false, &ServiceError{URL: vsURL, Service: service, Status: resp.StatusCode}
	}
	var vs ValueSet
	if err := json.NewDecoder(resp.Body).Decode(&vs); err != nil {
		return nil, false, &ServiceError{URL: vsURL, Service: service, Err: fmt.Errorf("decoding expansion: %w", err)}
	}
	return &vs, false, nil
}

func (c *ServiceClient) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
