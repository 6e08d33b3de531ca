package hub

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/guseggert/cmdhub/catalog"
	"github.com/guseggert/cmdhub/config"
	"github.com/guseggert/cmdhub/dashboard"
	"github.com/guseggert/cmdhub/probe"
	"github.com/guseggert/cmdhub/registry"
	"github.com/guseggert/cmdhub/runner"
	"github.com/guseggert/cmdhub/session"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ProcessRegistry lists supervised processes and builds lifecycle commands for them.
type ProcessRegistry interface {
	registry.Lister
	session.ActionBuilder
}

var _ ProcessRegistry = (*registry.PM2)(nil)

// Hub serves the dashboard API and the live push channel.
type Hub struct {
	logger *zap.SugaredLogger
	cfg    config.Config

	listenAddr string
	hostStats  bool

	store    catalog.Store
	services probe.ServiceStore
	registry ProcessRegistry
	executor runner.Executor

	catalog    *catalog.Catalog
	aggregator *dashboard.Aggregator
	broker     *session.Broker
	liveServer *session.Server

	handler    http.Handler
	httpServer *http.Server
	closers    []io.Closer

	stopOnce sync.Once
}

type Option func(h *Hub)

func WithListenAddr(s string) Option {
	return func(h *Hub) {
		h.listenAddr = s
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) {
		h.logger = l.Named("hub").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(h *Hub) {
		h.logger = h.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

// WithCatalogStore overrides the catalog backend selected by the config.
func WithCatalogStore(s catalog.Store) Option {
	return func(h *Hub) {
		h.store = s
	}
}

func WithServiceStore(s probe.ServiceStore) Option {
	return func(h *Hub) {
		h.services = s
	}
}

func WithRegistry(r ProcessRegistry) Option {
	return func(h *Hub) {
		h.registry = r
	}
}

func WithExecutor(x runner.Executor) Option {
	return func(h *Hub) {
		h.executor = x
	}
}

// WithHostStats toggles host CPU and memory telemetry in the dashboard snapshot.
func WithHostStats(enabled bool) Option {
	return func(h *Hub) {
		h.hostStats = enabled
	}
}

// New builds a Hub from cfg. Components not supplied as options are built from the config.
func New(cfg config.Config, opts ...Option) (*Hub, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	h := &Hub{
		logger:     logger.Named("hub").Sugar(),
		cfg:        cfg,
		listenAddr: cfg.ListenAddr,
		hostStats:  true,
	}
	for _, o := range opts {
		o(h)
	}

	if h.store == nil {
		store, err := h.openCatalogStore()
		if err != nil {
			return nil, err
		}
		h.store = store
	}
	if h.services == nil {
		h.services = &probe.FileServiceStore{Path: cfg.ServicesPath}
	}
	if h.registry == nil {
		h.registry = registry.NewPM2(h.logger, cfg.RegistryBin, cfg.RegistryTimeout)
	}
	if h.executor == nil {
		h.executor = runner.New(h.logger, cfg.Shell, cfg.WorkDir)
	}

	h.catalog = catalog.New(h.logger, h.store)
	h.aggregator = &dashboard.Aggregator{
		Log:      h.logger.Named("aggregator"),
		Catalog:  h.catalog,
		Registry: h.registry,
		Services: h.services,
		Prober:   probe.NewProber(h.logger, cfg),
	}
	if h.hostStats {
		h.aggregator.SampleHost = registry.SampleHost
	}
	h.broker = session.NewBroker(h.logger, h.catalog, h.registry, h.executor)
	h.liveServer = session.NewServer(h.logger, h.broker, originPatterns(cfg.AllowedOrigins))

	router := httprouter.New()
	router.GET("/api/dashboard", h.dashboard)
	router.POST("/api/pm2/:action/:name", h.processAction)
	router.POST("/api/add", h.addCommand)
	router.POST("/api/run/:cid", h.runCommand)
	router.POST("/api/delete/:cid", h.deleteCommand)
	router.GET("/health", h.health)
	router.GET("/live", h.live)

	h.handler = withCORS(router, cfg.AllowedOrigins)
	h.httpServer = &http.Server{Handler: h.handler}
	return h, nil
}

func (h *Hub) openCatalogStore() (catalog.Store, error) {
	switch h.cfg.CatalogDriver {
	case config.CatalogSQLite:
		store, err := catalog.OpenSQLStore(h.cfg.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("opening catalog: %w", err)
		}
		h.closers = append(h.closers, store)
		return store, nil
	default:
		return &catalog.FileStore{Path: h.cfg.CatalogPath}, nil
	}
}

// Handler returns the HTTP handler serving every route.
func (h *Hub) Handler() http.Handler {
	return h.handler
}

// Broker returns the live session broker.
func (h *Hub) Broker() *session.Broker {
	return h.broker
}

// Run listens on the configured address and serves until Stop is called.
func (h *Hub) Run() error {
	l, err := net.Listen("tcp", h.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}
	return h.Serve(l)
}

func (h *Hub) Serve(l net.Listener) error {
	h.logger.Infow("serving", "Addr", l.Addr().String(), "Mode", h.cfg.Mode)
	err := h.httpServer.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop closes the server and the catalog. Invocations already started run to completion.
func (h *Hub) Stop() error {
	var errs []error
	h.stopOnce.Do(func() {
		if err := h.httpServer.Close(); err != nil {
			errs = append(errs, err)
		}
		for _, c := range h.closers {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
