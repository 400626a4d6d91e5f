package runtime

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/ClearskyLabs/calsync/config"
	"github.com/ClearskyLabs/calsync/engine"
	"github.com/ClearskyLabs/calsync/hub"
	"github.com/ClearskyLabs/calsync/service"
	"github.com/ClearskyLabs/calsync/store"
)

// Runtime manages the execution of calsyncd: configuration, signal handling,
// and the lifecycle of the store, engine, hub and HTTP service.
type Runtime struct {
	appCtx    context.Context
	appCancel context.CancelFunc
	logger    *slog.Logger
	cfg       *config.Config

	configFile string

	store   store.Store
	engine  *engine.Engine
	hub     *hub.Hub
	service *service.Service
}

// New parses flags, loads configuration and wires the components together.
// Flags: --config <file>, --generate-config, --log-level <debug|info|warn|error>.
func New(args []string, defaultConfigFile string) (*Runtime, error) {
	fs := flag.NewFlagSet("calsyncd", flag.ContinueOnError)
	configFile := fs.String("config", defaultConfigFile, "path to the yaml configuration file")
	generate := fs.Bool("generate-config", false, "write a starter config file and exit")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *generate {
		if err := writeStarterConfig(*configFile); err != nil {
			return nil, err
		}
		color.Green("Wrote starter config to %s", *configFile)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		return nil, fmt.Errorf("could not load config %s: %w", *configFile, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	r := &Runtime{
		appCtx:     ctx,
		appCancel:  cancel,
		logger:     logger,
		cfg:        cfg,
		configFile: *configFile,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("Signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := r.wire(); err != nil {
		cancel()
		return nil, err
	}
	return r, nil
}

func (r *Runtime) wire() error {
	var (
		st  store.Store
		err error
	)
	switch r.cfg.Store.Backend {
	case config.StoreBackendBadger:
		st, err = store.NewBadgerStore(r.logger, filepath.Join(r.cfg.DataDir, config.BadgerDirName))
	default:
		st, err = store.NewFileStore(r.logger, filepath.Join(r.cfg.DataDir, config.FileStoreName))
	}
	if err != nil {
		return fmt.Errorf("could not open store: %w", err)
	}
	r.store = st

	eng, err := engine.New(r.appCtx, r.logger, st)
	if err != nil {
		st.Close()
		return fmt.Errorf("could not start engine: %w", err)
	}
	r.engine = eng

	r.hub = hub.New(r.appCtx, r.logger, r.cfg, eng)
	eng.SetBroadcaster(r.hub)

	r.service = service.New(r.appCtx, r.logger, r.cfg, eng, r.hub)
	return nil
}

// Run starts the liveness monitor and serves until shutdown.
func (r *Runtime) Run() error {
	defer r.store.Close()

	banner()
	r.logger.Info("calsyncd starting",
		"binding", r.cfg.HttpBinding,
		"store", r.cfg.Store.Backend,
		"data_dir", r.cfg.DataDir,
	)

	go r.hub.Run(r.appCtx)

	err := r.service.Run()
	r.appCancel()
	return err
}

func banner() {
	color.Cyan("calsync")
	color.White("real-time calendar synchronization")
}

func writeStarterConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("refusing to overwrite existing config at %s", path)
	}
	data, err := yaml.Marshal(config.GenerateConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
