// Package api defines the wire types of the expression service.
package api

import (
	"context"
	"encoding/json"
)

const RequestIDHeader = "X-Request-ID"

func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(RequestIDHeader); v != nil {
		return v.(string)
	}
	return ""
}

// Error is the JSON body of every non-2xx response.  Kind names the error
// class: "syntax", "schema", "semantic", "evaluation", "lowering",
// "request", or "auth".
type Error struct {
	Type    string `json:"type"`
	Kind    string `json:"kind"`
	Message string `json:"error"`
}

func (e Error) Error() string {
	return e.Message
}

type VersionResponse struct {
	Version string `json:"version"`
}

// CompileRequest checks an expression against a schema root without
// evaluating it.
type CompileRequest struct {
	Root       string `json:"root"`
	Expression string `json:"expression"`
}

type CompileResponse struct {
	// Canonical is the formatter's canonical rendering of the
	// expression.
	Canonical string `json:"canonical"`
	// Type describes the static result type.
	Type string `json:"type"`
	// Collection reports whether the result is collection-valued.
	Collection bool `json:"collection"`
}

// EvalRequest evaluates an expression against one record.
type EvalRequest struct {
	Root       string          `json:"root,omitempty"`
	Expression string          `json:"expression"`
	Resource   json.RawMessage `json:"resource"`
}

type EvalResponse struct {
	// Result holds the ordered result collection; each element is the
	// JSON encoding of one value.
	Result []any `json:"result"`
}

// SQLRequest renders an expression as SQL for one dialect, "bigquery" or
// "spark".
type SQLRequest struct {
	Root       string `json:"root"`
	Expression string `json:"expression"`
	Dialect    string `json:"dialect"`
	// CodesTable overrides the value-set codes table memberOf joins
	// against.
	CodesTable string `json:"codes_table,omitempty"`
}

type SQLResponse struct {
	SQL string `json:"sql"`
}
