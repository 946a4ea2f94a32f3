package service

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/carequery/fhirpath"
	"github.com/carequery/fhirpath/api"
	"github.com/carequery/fhirpath/compiler"
	"github.com/carequery/fhirpath/compiler/parser"
	"github.com/carequery/fhirpath/compiler/semantic"
	"github.com/carequery/fhirpath/runtime/sqlgen"
	"github.com/carequery/fhirpath/schema"
	"github.com/carequery/fhirpath/terminology"
	"go.uber.org/zap"
)

func (c *Core) handleVersion(w http.ResponseWriter, r *http.Request) {
	c.respond(w, http.StatusOK, api.VersionResponse{Version: Version})
}

func (c *Core) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (c *Core) handleCompile(w http.ResponseWriter, r *http.Request) {
	defer c.observe("compile", time.Now())
	var req api.CompileRequest
	if !c.decodeBody(w, r, &req) {
		return
	}
	compiled, err := c.compile(req.Root, req.Expression, "")
	if err != nil {
		c.metrics.compiles.WithLabelValues("error").Inc()
		c.respondError(w, r, err)
		return
	}
	c.metrics.compiles.WithLabelValues("ok").Inc()
	c.respond(w, http.StatusOK, api.CompileResponse{
		Canonical:  compiled.FHIRPath(),
		Type:       compiled.Type().String(),
		Collection: fhirpath.IsCollection(compiled.Type()),
	})
}

func (c *Core) handleEval(w http.ResponseWriter, r *http.Request) {
	defer c.observe("eval", time.Now())
	var req api.EvalRequest
	if !c.decodeBody(w, r, &req) {
		return
	}
	resource, err := fhirpath.ParseResource(req.Resource)
	if err != nil {
		c.metrics.evals.WithLabelValues("error").Inc()
		c.respondError(w, r, badRequest(err))
		return
	}
	root := req.Root
	if root == "" {
		root = resource.ResourceType()
	}
	compiled, err := c.compile(root, req.Expression, "")
	if err == nil {
		var out fhirpath.Collection
		out, err = compiled.Evaluate(r.Context(), resource)
		if err == nil {
			c.metrics.evals.WithLabelValues("ok").Inc()
			c.respond(w, http.StatusOK, api.EvalResponse{Result: resultJSON(out)})
			return
		}
	}
	c.metrics.evals.WithLabelValues("error").Inc()
	c.respondError(w, r, err)
}

func (c *Core) handleSQL(w http.ResponseWriter, r *http.Request) {
	defer c.observe("sql", time.Now())
	var req api.SQLRequest
	if !c.decodeBody(w, r, &req) {
		return
	}
	dialect, ok := compiler.Dialect(req.Dialect)
	if !ok {
		c.metrics.sqls.WithLabelValues("error").Inc()
		c.respondError(w, r, badRequest(errors.New("unknown dialect "+req.Dialect)))
		return
	}
	compiled, err := c.compile(req.Root, req.Expression, req.CodesTable)
	if err == nil {
		var sql string
		sql, err = compiled.SQL(r.Context(), dialect)
		if err == nil {
			c.metrics.sqls.WithLabelValues("ok").Inc()
			c.respond(w, http.StatusOK, api.SQLResponse{SQL: sql})
			return
		}
	}
	c.metrics.sqls.WithLabelValues("error").Inc()
	c.respondError(w, r, err)
}

func (c *Core) compile(root, expression, codesTable string) (*compiler.CompiledExpression, error) {
	return compiler.Compile(c.env, root, expression, &compiler.Options{
		Resolver:   c.resolver,
		CodesTable: codesTable,
	})
}

func (c *Core) observe(endpoint string, start time.Time) {
	c.metrics.latency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func (c *Core) decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	body := http.MaxBytesReader(w, r.Body, c.maxBody)
	if err := json.NewDecoder(body).Decode(out); err != nil {
		c.respondError(w, r, badRequest(err))
		return false
	}
	return true
}

func (c *Core) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func badRequest(err error) error { return &requestError{err} }

// respondError maps the compiler's error taxonomy to HTTP statuses and the
// wire error kinds.
func (c *Core) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadRequest
	kind := "request"
	var (
		syntaxErr     *parser.SyntaxError
		semanticErr   *semantic.Error
		unresolved    *schema.UnresolvedTypeError
		malformed     *schema.MalformedSchemaError
		cardinality   *fhirpath.CardinalityError
		unit          *fhirpath.UnitMismatchError
		unsupported   *sqlgen.UnsupportedError
		terminologyEr *terminology.ServiceError
	)
	switch {
	case errors.As(err, &syntaxErr):
		kind = "syntax"
	case errors.As(err, &semanticErr):
		kind = "semantic"
	case errors.As(err, &unresolved), errors.As(err, &malformed):
		kind = "schema"
	case errors.As(err, &cardinality), errors.As(err, &unit):
		kind = "evaluation"
		status = http.StatusUnprocessableEntity
	case errors.As(err, &unsupported):
		kind = "lowering"
		status = http.StatusUnprocessableEntity
	case errors.As(err, &terminologyEr):
		kind = "evaluation"
		status = http.StatusBadGateway
	default:
		var reqErr *requestError
		if !errors.As(err, &reqErr) {
			status = http.StatusInternalServerError
			kind = "internal"
			c.logger.Error("request failed",
				zap.String("request_id", api.RequestIDFromContext(r.Context())),
				zap.Error(err))
		}
	}
	c.respond(w, status, api.Error{
		Type:    "Error",
		Kind:    kind,
		Message: err.Error(),
	})
}

// resultJSON renders a result collection for the wire: primitives as their
// JSON forms, temporals and quantities as canonical strings, structured
// elements as their record fragments.
func resultJSON(out fhirpath.Collection) []any {
	result := make([]any, 0, len(out))
	for _, v := range out {
		result = append(result, valueJSON(v))
	}
	return result
}

func valueJSON(v fhirpath.Value) any {
	if b, ok := v.AsBool(); ok {
		return b
	}
	if i, ok := v.AsInt(); ok {
		return i
	}
	if s, ok := v.AsString(); ok {
		return s
	}
	if elem, ok := v.AsElement(); ok {
		return elem
	}
	if q, ok := v.AsQuantity(); ok {
		return map[string]any{"value": q.Value.String(), "unit": q.Unit}
	}
	if d, ok := v.AsDecimal(); ok {
		return json.RawMessage(d.String())
	}
	return v.String()
}
