package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/five82/threadline/internal/config"
	"github.com/five82/threadline/internal/feedapi"
	"github.com/five82/threadline/internal/interaction"
	"github.com/five82/threadline/internal/logging"
	"github.com/five82/threadline/internal/marks"
	"github.com/five82/threadline/internal/prefs"
	"github.com/five82/threadline/internal/session"
	"github.com/five82/threadline/internal/state"
	"github.com/five82/threadline/internal/ui"
)

const requestTimeout = 10 * time.Second

// Options configure the threadline application.
type Options struct {
	ConfigPath string
	PrefsPath  string // empty uses default ~/.config/threadline/prefs.toml
	PollEvery  int    // seconds; zero uses the config value
}

// Services are the long-lived collaborators shared by the TUI and the
// one-shot commands.
type Services struct {
	Config   config.Config
	Logger   *zap.Logger
	Session  *session.Session
	Client   *feedapi.Client
	Engine   *interaction.Engine
	Registry *prometheus.Registry

	marks *marks.Store
}

// Open loads configuration and builds every service. Close releases them.
func Open(opts Options) (*Services, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.PollEvery > 0 {
		cfg.PollInterval = time.Duration(opts.PollEvery) * time.Second
	}

	logger, err := logging.New(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	token, err := cfg.ReadToken()
	if err != nil {
		return nil, err
	}
	sess, err := session.New(token)
	if err != nil {
		return nil, err
	}
	if err := sess.Err(); err != nil {
		return nil, err
	}

	client, err := feedapi.NewClient(feedapi.Options{
		BaseURL:           cfg.APIURL,
		Token:             sess.Token,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Timeout:           requestTimeout,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init feed client: %w", err)
	}

	store, err := marks.Open(cfg.MarksPath())
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	engine, err := interaction.New(interaction.Options{
		Cache:            state.NewCache(),
		Remote:           client,
		User:             sess.UserID(),
		Retry:            cfg.Retry,
		Marks:            store,
		Metrics:          interaction.NewMetrics(reg),
		Logger:           logger,
		OnSessionInvalid: sess.Invalidate,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	logger.Info("threadline_started",
		zap.String("api_url", cfg.APIURL),
		zap.String("user", string(sess.UserID())),
		zap.Duration("poll_interval", cfg.PollInterval),
	)
	return &Services{
		Config:   cfg,
		Logger:   logger,
		Session:  sess,
		Client:   client,
		Engine:   engine,
		Registry: reg,
		marks:    store,
	}, nil
}

// Close flushes the logger and closes the marks database.
func (s *Services) Close() error {
	_ = s.Logger.Sync()
	return s.marks.Close()
}

// Run boots the threadline TUI until the context is cancelled.
func Run(ctx context.Context, opts Options) error {
	svc, err := Open(opts)
	if err != nil {
		return err
	}
	defer svc.Close()

	userPrefs, err := prefs.Load(opts.PrefsPath)
	if err != nil {
		svc.Logger.Warn("prefs_load_failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if svc.Config.MetricsAddr != "" {
		go serveMetrics(ctx, svc.Config.MetricsAddr, svc.Registry, svc.Logger)
	}

	// Initial refresh so the first frame has data.
	_ = Refresh(ctx, svc.Engine, svc.Client, svc.Logger)

	StartPoller(ctx, svc.Engine, svc.Client, svc.Config.PollInterval, svc.Logger)

	return ui.Run(ui.Options{
		Context:       ctx,
		Engine:        svc.Engine,
		Session:       svc.Session,
		Loader:        svc.Client,
		PollTick:      svc.Config.PollInterval,
		ThemeName:     userPrefs.Theme,
		AbsoluteTimes: userPrefs.AbsoluteTimes,
		PrefsPath:     opts.PrefsPath,
	})
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics_listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("metrics_server_failed", zap.Error(err))
	}
}
