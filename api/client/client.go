// Package client is the Go client for the expression service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/carequery/fhirpath/api"
)

// Connection talks to one expression service instance.
type Connection struct {
	client *http.Client
	base   string
	auth   string
}

// NewConnection returns a connection to the service at base.
func NewConnection(base string) *Connection {
	return &Connection{client: &http.Client{}, base: base}
}

// SetAuthToken attaches a bearer token to every request.
func (c *Connection) SetAuthToken(token string) {
	c.auth = "Bearer " + token
}

func (c *Connection) Version(ctx context.Context) (api.VersionResponse, error) {
	var out api.VersionResponse
	err := c.get(ctx, "/version", &out)
	return out, err
}

func (c *Connection) Compile(ctx context.Context, req api.CompileRequest) (api.CompileResponse, error) {
	var out api.CompileResponse
	err := c.post(ctx, "/compile", req, &out)
	return out, err
}

func (c *Connection) Eval(ctx context.Context, req api.EvalRequest) (api.EvalResponse, error) {
	var out api.EvalResponse
	err := c.post(ctx, "/eval", req, &out)
	return out, err
}

func (c *Connection) SQL(ctx context.Context, req api.SQLRequest) (api.SQLResponse, error) {
	var out api.SQLResponse
	err := c.post(ctx, "/sql", req, &out)
	return out, err
}

func (c *Connection) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Connection) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Connection) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.auth != "" {
		req.Header.Set("Authorization", c.auth)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var apiErr api.Error
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&apiErr); err != nil || apiErr.Message == "" {
			return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
		}
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
