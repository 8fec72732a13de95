// Package daemon wires boostd together: it loads the resource and boost
// definitions, runs the arbitration engine, and serves the control API on a
// unix socket plus an optional loopback metrics listener.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/boostd/boostd/internal/buildinfo"
	"github.com/boostd/boostd/internal/config"
	"github.com/boostd/boostd/internal/db"
	"github.com/boostd/boostd/internal/dispatch"
	"github.com/boostd/boostd/internal/engine"
	"github.com/boostd/boostd/internal/metrics"
	"github.com/boostd/boostd/internal/node"
	"github.com/boostd/boostd/internal/perfconfig"
)

const (
	shutdownTimeout = 5 * time.Second
	socketPerms     = 0o660
	runDirPerms     = 0o750
)

// Service owns the engine, the dispatcher and the listeners.
type Service struct {
	cfg             config.Config
	logger          logr.Logger
	model           *perfconfig.Model
	store           *db.Store
	engine          *engine.Engine
	dispatcher      *dispatch.Dispatcher
	unixListener    net.Listener
	metricsListener net.Listener
	unixServer      *http.Server
	metricsServer   *http.Server
}

// Run loads definitions, binds listeners, and serves until ctx is canceled.
func Run(ctx context.Context, cfg config.Config, logger logr.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	model, err := LoadModel(cfg, logger)
	if err != nil {
		return err
	}
	var store *db.Store
	if cfg.NeedsDB() {
		store, err = db.Open(cfg.DBPath)
		if err != nil {
			return err
		}
	}
	service, err := NewService(cfg, model, store, logger)
	if err != nil {
		_ = store.Close()
		return err
	}
	logger.Info("definitions loaded",
		"resources", len(model.ResourceIDs()),
		"commands", len(model.CmdIDs()),
		"partitions", len(model.Partitions()))
	return service.Serve(ctx)
}

// LoadModel reads the resource file, the explicit boost files and every yaml
// file in the boosts directory. Loosely permissioned files are logged.
func LoadModel(cfg config.Config, logger logr.Logger) (*perfconfig.Model, error) {
	paths := append([]string(nil), cfg.BoostPaths...)
	if cfg.BoostsDir != "" {
		dirPaths, err := perfconfig.BoostFiles(cfg.BoostsDir)
		if err != nil {
			return nil, err
		}
		paths = append(paths, dirPaths...)
	}
	for _, path := range append([]string{cfg.ResourcesPath}, paths...) {
		warn, err := config.CheckFilePermissions(path)
		if err != nil {
			return nil, err
		}
		if warn != "" {
			logger.Info("definition file permissions", "warning", warn)
		}
	}
	return perfconfig.Load(cfg.ResourcesPath, paths...)
}

// NewService constructs a service with bound listeners. store may be nil
// when neither the journal nor the db report sink is configured.
func NewService(cfg config.Config, model *perfconfig.Model, store *db.Store, logger logr.Logger) (*Service, error) {
	if err := ensureDir(cfg.RunDir, runDirPerms); err != nil {
		return nil, err
	}
	unixListener, err := listenUnix(cfg.SocketPath)
	if err != nil {
		return nil, err
	}
	var metricsListener net.Listener
	if cfg.MetricsListen != "" {
		metricsListener, err = net.Listen("tcp", cfg.MetricsListen)
		if err != nil {
			_ = unixListener.Close()
			return nil, fmt.Errorf("listen metrics %s: %w", cfg.MetricsListen, err)
		}
	}

	m := metrics.New()
	var writer node.Writer = node.FileWriter{Root: nodeRoot(cfg.NodeRoot)}
	if cfg.DryRun {
		writer = node.DryRunWriter{Logger: logger.WithName("node")}
	}
	var reporter engine.Reporter = LogReporter{Logger: logger.WithName("report")}
	if cfg.ReportSink == config.ReportSinkDB && store != nil {
		reporter = store
	}
	eng := engine.New(model, writer,
		engine.WithLogger(logger),
		engine.WithMetrics(m),
		engine.WithReporter(reporter))

	dispatchOpts := []dispatch.Option{dispatch.WithLogger(logger), dispatch.WithMetrics(m)}
	if cfg.Journal && store != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithJournal(store))
	}
	dispatcher := dispatch.New(model, eng, dispatchOpts...)

	api := NewControlAPI(dispatcher, eng, store, logger).WithMetricsEnabled(metricsListener != nil)
	unixServer := &http.Server{
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	var metricsServer *http.Server
	if metricsListener != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		mux.HandleFunc("/healthz", healthHandler)
		metricsServer = &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       2 * time.Minute,
		}
	}

	return &Service{
		cfg:             cfg,
		logger:          logger.WithName("daemon"),
		model:           model,
		store:           store,
		engine:          eng,
		dispatcher:      dispatcher,
		unixListener:    unixListener,
		metricsListener: metricsListener,
		unixServer:      unixServer,
		metricsServer:   metricsServer,
	}, nil
}

// Serve runs the engine and the servers until ctx is canceled or one of
// them fails.
func (s *Service) Serve(ctx context.Context) error {
	s.recordLifecycle(ctx, "daemon_started")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.engine.Run(gctx)
	})
	g.Go(func() error {
		s.logger.Info("listening", "unix", s.cfg.SocketPath)
		return serveHTTP(s.unixServer, s.unixListener)
	})
	if s.metricsServer != nil {
		g.Go(func() error {
			s.logger.Info("listening", "metrics", s.metricsListener.Addr().String())
			return serveHTTP(s.metricsServer, s.metricsListener)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		s.shutdown()
		return nil
	})

	err := g.Wait()
	s.recordLifecycle(context.Background(), "daemon_stopped")
	_ = os.Remove(s.cfg.SocketPath)
	if s.store != nil {
		_ = s.store.Close()
	}
	if err != nil {
		s.logger.Error(err, "daemon stopped with error")
	}
	return err
}

func serveHTTP(server *http.Server, listener net.Listener) error {
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Service) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = s.unixServer.Shutdown(ctx)
	if s.metricsServer != nil {
		_ = s.metricsServer.Shutdown(ctx)
	}
}

func (s *Service) recordLifecycle(ctx context.Context, kind string) {
	if s.store == nil || !s.cfg.Journal {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"version": buildinfo.Version,
		"commit":  buildinfo.Commit,
	})
	if err := s.store.RecordEvent(ctx, db.Event{Kind: kind, JSON: string(payload)}); err != nil {
		s.logger.Error(err, "journal write failed", "kind", kind)
	}
}

// nodeRoot maps the default root to the real filesystem.
func nodeRoot(root string) string {
	if filepath.Clean(root) == "/" {
		return ""
	}
	return root
}

func ensureDir(path string, perms os.FileMode) error {
	if path == "" {
		return errors.New("run_dir is required")
	}
	if err := os.MkdirAll(path, perms); err != nil {
		return fmt.Errorf("create dir %s: %w", path, err)
	}
	return nil
}

func listenUnix(socketPath string) (net.Listener, error) {
	if socketPath == "" {
		return nil, errors.New("socket_path is required")
	}
	if err := os.MkdirAll(filepath.Dir(socketPath), runDirPerms); err != nil {
		return nil, fmt.Errorf("create socket dir %s: %w", filepath.Dir(socketPath), err)
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket %s: %w", socketPath, err)
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, socketPerms); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket %s: %w", socketPath, err)
	}
	return listener, nil
}
