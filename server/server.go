// Package server exposes the FormBridge HTTP surface: one route group per
// CRM module, the document extraction relay, and the health, metrics and
// admin endpoints.
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/formbridge/formbridge/config"
	"github.com/formbridge/formbridge/extract"
	"github.com/formbridge/formbridge/fanout"
	"github.com/formbridge/formbridge/form"
	"github.com/formbridge/formbridge/zoho"
)

// Server wires the route handlers to their collaborators. Construct with
// New and mount Handler on an http.Server.
type Server struct {
	cfg        *config.Config
	runtime    *config.Runtime
	tokens     *zoho.TokenCache
	crm        *zoho.Client
	dispatcher *fanout.Dispatcher
	relay      *extract.Relay
	extractor  *extract.Extractor
	stripper   *form.Stripper
	logger     *slog.Logger
}

// Option configures optional Server collaborators.
type Option func(*Server)

// WithDispatcher replaces the default webhook dispatcher.
func WithDispatcher(d *fanout.Dispatcher) Option {
	return func(s *Server) {
		s.dispatcher = d
	}
}

// WithRelay enables the document extraction endpoint. Without a relay the
// endpoint responds 503.
func WithRelay(r *extract.Relay) Option {
	return func(s *Server) {
		s.relay = r
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates the HTTP surface around the given collaborators. The runtime
// holder supplies webhook target lists so config reloads reach in-flight
// traffic without a restart.
func New(cfg *config.Config, runtime *config.Runtime, tokens *zoho.TokenCache, crm *zoho.Client, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		runtime:   runtime,
		tokens:    tokens,
		crm:       crm,
		extractor: extract.NewExtractor(),
		stripper:  form.NewStripper(),
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.dispatcher == nil {
		s.dispatcher = fanout.New(
			fanout.WithTimeout(cfg.Webhooks.Timeout),
			fanout.WithLogger(s.logger),
		)
	}

	return s
}

// Close releases pooled webhook connections.
func (s *Server) Close() {
	s.dispatcher.Close()
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverPanics)
	r.Use(requestID)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Post("/admin/token/refresh", s.handleTokenRefresh)

	r.Route("/api", func(api chi.Router) {
		for _, route := range s.moduleRoutes() {
			api.Route("/"+route.path, func(mr chi.Router) {
				mr.Post("/", s.handleWrite(route))
				mr.Get("/", s.handleList(route.module))
				mr.Get("/search", s.handleSearch(route.module))
				mr.Get("/{id}", s.handleGet(route.module))
				mr.Delete("/{id}", s.handleDelete(route.module))
			})
		}
		api.Post("/extract", s.handleExtract)
	})

	return r
}

// moduleRoutes declares the CRM module surface: URL path, target module,
// record builder and the webhook list fed after a successful write. Vendor
// registrations fan out to their own list; everything else shares the
// general list.
func (s *Server) moduleRoutes() []moduleRoute {
	return []moduleRoute{
		{
			path:    "vendors",
			module:  zoho.ModuleVendors,
			build:   s.buildVendor,
			targets: s.runtime.VendorTargets,
		},
		{
			path:     "contacts",
			module:   zoho.ModuleContacts,
			build:    s.buildContact,
			targets:  s.runtime.GeneralTargets,
			upsertOn: []string{"Email"},
		},
		{
			path:    "products",
			module:  zoho.ModuleProducts,
			build:   s.buildProduct,
			targets: s.runtime.GeneralTargets,
		},
		{
			path:    "cash-slips",
			module:  zoho.ModuleCashSlips,
			build:   s.buildCashSlip,
			targets: s.runtime.GeneralTargets,
		},
		{
			path:    "trials",
			module:  zoho.ModuleTrials,
			build:   s.buildTrial,
			targets: s.runtime.GeneralTargets,
		},
		{
			path:    "purchase-requests",
			module:  zoho.ModulePurchaseRequests,
			build:   s.buildPurchaseRequest,
			targets: s.runtime.GeneralTargets,
		},
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
