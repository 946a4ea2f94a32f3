// Package service exposes the expression compiler over HTTP: compile
// checks, in-memory evaluation, and SQL rendering, plus health and metrics
// endpoints.  One Core owns the loaded definition package and the
// terminology resolver chain; the request surface is stateless beyond
// them.
package service

import (
	"context"
	"fmt"
	"net/http"

	"github.com/carequery/fhirpath/fhirpack"
	"github.com/carequery/fhirpath/pkg/storage"
	"github.com/carequery/fhirpath/schema"
	"github.com/carequery/fhirpath/terminology"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Version is stamped by the build; "unknown" otherwise.
var Version = "unknown"

type Core struct {
	conf     Config
	env      *schema.Environment
	resolver terminology.Resolver
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  metrics
	maxBody  int64
}

type metrics struct {
	compiles *prometheus.CounterVec
	evals    *prometheus.CounterVec
	sqls     *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewCore loads the configured package and assembles the resolver chain.
func NewCore(ctx context.Context, conf Config, logger *zap.Logger) (*Core, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if conf.Package == "" {
		return nil, fmt.Errorf("no definition package configured")
	}
	uri, err := storage.ParseURI(conf.Package)
	if err != nil {
		return nil, err
	}
	bundle, err := fhirpack.NewLoader(storage.NewEngine(), logger).Load(ctx, uri)
	if err != nil {
		return nil, err
	}
	env, err := bundle.Environment()
	if err != nil {
		return nil, err
	}
	resolver, err := buildResolver(conf.Terminology, bundle, logger)
	if err != nil {
		return nil, err
	}
	maxBody, err := conf.maxRequestSize()
	if err != nil {
		return nil, err
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	c := &Core{
		conf:     conf,
		env:      env,
		resolver: resolver,
		logger:   logger,
		registry: registry,
		maxBody:  maxBody,
	}
	c.metrics = newMetrics(registry)
	return c, nil
}

func newMetrics(registry *prometheus.Registry) metrics {
	factory := func(name, help string) *prometheus.CounterVec {
		v := prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: name, Help: help},
			[]string{"status"},
		)
		registry.MustRegister(v)
		return v
	}
	latency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "request_duration_seconds",
			Help: "Request latency by endpoint.",
		},
		[]string{"endpoint"},
	)
	registry.MustRegister(latency)
	return metrics{
		compiles: factory("compiles_total", "Expression compilations by outcome."),
		evals:    factory("evals_total", "Expression evaluations by outcome."),
		sqls:     factory("sql_renderings_total", "SQL renderings by outcome."),
		latency:  latency,
	}
}

// buildResolver chains the package's local expansions, optional caches,
// and the optional remote service client, in that order.
func buildResolver(conf TerminologyConfig, bundle *fhirpack.Bundle, logger *zap.Logger) (terminology.Resolver, error) {
	chain := terminology.Chain{terminology.NewLocalResolver(bundle, logger)}
	if conf.Remote {
		remote := terminology.Resolver(&terminology.ServiceClient{Logger: logger})
		if conf.RedisAddr != "" {
			client := redis.NewClient(&redis.Options{Addr: conf.RedisAddr})
			remote = terminology.NewRedisResolver(remote, client, 0, logger)
		}
		if conf.CacheSize > 0 {
			var err error
			remote, err = terminology.NewCacheResolver(remote, conf.CacheSize)
			if err != nil {
				return nil, err
			}
		}
		chain = append(chain, remote)
	}
	return chain, nil
}

// Registry exposes the metrics registry, for scrape wiring and tests.
func (c *Core) Registry() *prometheus.Registry { return c.registry }

// Router returns the service's HTTP handler.
func (c *Core) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(c.requestIDMiddleware, c.accessLogMiddleware)
	r.HandleFunc("/version", c.handleVersion).Methods(http.MethodGet)
	r.HandleFunc("/status", c.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	authed := r.NewRoute().Subrouter()
	if c.conf.Auth.Enabled {
		authed.Use(c.authMiddleware)
	}
	authed.HandleFunc("/compile", c.handleCompile).Methods(http.MethodPost)
	authed.HandleFunc("/eval", c.handleEval).Methods(http.MethodPost)
	authed.HandleFunc("/sql", c.handleSQL).Methods(http.MethodPost)

	if len(c.conf.CORS.AllowedOrigins) > 0 {
		return cors.New(cors.Options{
			AllowedOrigins: c.conf.CORS.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"*"},
		}).Handler(r)
	}
	return r
}
