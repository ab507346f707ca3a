package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/semmidev/keeper/internal/adapter/archiver"
	"github.com/semmidev/keeper/internal/adapter/notifier"
	"github.com/semmidev/keeper/internal/adapter/probe"
	"github.com/semmidev/keeper/internal/adapter/storage"
	"github.com/semmidev/keeper/internal/config"
	"github.com/semmidev/keeper/internal/domain"
	"github.com/semmidev/keeper/internal/infrastructure/logger"
	"github.com/semmidev/keeper/internal/infrastructure/metrics"
	"github.com/semmidev/keeper/internal/infrastructure/scheduler"
	"github.com/semmidev/keeper/internal/infrastructure/watcher"
	"github.com/semmidev/keeper/internal/usecase"
)

type App struct {
	config        *config.Config
	logger        *logger.Logger
	store         domain.Store
	scheduler     *scheduler.Scheduler
	uploadTargets []usecase.UploadTarget
	metricsServer *http.Server
	watcher       *watcher.Watcher

	controller *usecase.Controller
	instances  *usecase.Instances
	monitors   *usecase.Monitors
}

func New(cfg *config.Config) (*App, error) {
	// Initialize logger
	log, err := logger.New(logger.Options{
		Level:      cfg.App.LogLevel,
		File:       cfg.App.LogFile,
		MaxSizeMB:  cfg.App.LogMaxSizeMB,
		MaxBackups: cfg.App.LogMaxBackups,
		MaxAgeDays: cfg.App.LogMaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Infof("Starting %s", cfg.App.Name)

	// Initialize persistent store
	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Storage.Driver, err)
	}
	log.Infof("✓ Using %s store at %s", cfg.Storage.Driver, cfg.Storage.Path)

	// Initialize archiver
	excluder, err := archiver.NewPatternExcluder(cfg.Backup.ExcludePatterns)
	if err != nil {
		store.Close()
		log.Close()
		return nil, fmt.Errorf("failed to compile exclude patterns: %w", err)
	}

	uploadTargets := initializeUploadTargets(cfg, log)
	notify := initializeNotifier(cfg, log)

	// Initialize metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	sched := scheduler.New(scheduler.WithLogger(log.Component("scheduler").SugaredLogger))
	metrics.RegisterJobGauge(reg, sched.Len)

	usecaseLog := log.Component("usecase")
	backupUC := usecase.NewBackup(
		store,
		archiver.NewZip(),
		excluder,
		uploadTargets,
		notify,
		m,
		usecaseLog,
		cfg.Backup.NotifyOnSuccess,
	)
	uptimeUC := usecase.NewUptime(
		store,
		probe.New(cfg.Uptime.ProbeTimeout),
		notify,
		m,
		usecaseLog,
		cfg.Uptime.HistoryLimit,
		cfg.Uptime.NotifyTransitions,
	)
	controller := usecase.NewController(sched, store, store, backupUC, uptimeUC, usecaseLog)

	a := &App{
		config:        cfg,
		logger:        log,
		store:         store,
		scheduler:     sched,
		uploadTargets: uploadTargets,
		controller:    controller,
		instances:     usecase.NewInstances(store, controller, backupUC, usecaseLog),
		monitors:      usecase.NewMonitors(store, controller, uptimeUC, usecaseLog),
	}

	if cfg.Metrics.Enabled {
		a.metricsServer = metrics.NewServer(cfg.Metrics.Addr, reg)
	}

	if js, ok := store.(*storage.JSONStore); ok && cfg.Watch.Enabled {
		a.watcher = watcher.New(js.Dir(), js, storage.FingerprintFile,
			watcher.WithDebounce(cfg.Watch.Debounce),
			watcher.WithLogger(log.Component("watcher").SugaredLogger),
		)
		a.watcher.On(storage.InstancesFile, controller.ReloadInstances)
		a.watcher.On(storage.MonitorsFile, controller.ReloadMonitors)
	}

	return a, nil
}

func initializeUploadTargets(cfg *config.Config, log *logger.Logger) []usecase.UploadTarget {
	var targets []usecase.UploadTarget

	for _, mirrorCfg := range cfg.GetEnabledMirrors() {
		mirror, err := storage.NewMirror(context.Background(), &mirrorCfg)
		if err != nil {
			log.Errorf("Failed to initialize %s mirror: %v", mirrorCfg.Type, err)
			continue
		}

		switch mirrorCfg.Type {
		case "s3":
			log.Infof("✓ AWS S3 mirror enabled (bucket: %s)", mirrorCfg.Bucket)
		case "gdrive":
			log.Infof("✓ Google Drive mirror enabled")
		case "local":
			log.Infof("✓ Local mirror enabled (%s)", mirrorCfg.Path)
		}

		targets = append(targets, usecase.UploadTarget{
			Name:   mirrorCfg.Type,
			Mirror: mirror,
		})
	}

	return targets
}

func initializeNotifier(cfg *config.Config, log *logger.Logger) domain.Notifier {
	if !cfg.Telegram.Enabled {
		return domain.NopNotifier{}
	}

	tg, err := notifier.NewTelegram(&cfg.Telegram)
	if err != nil {
		log.Errorf("Failed to initialize Telegram: %v", err)
		return domain.NopNotifier{}
	}
	log.Infof("✓ Telegram notifications enabled")
	return tg
}

func (a *App) Instances() *usecase.Instances { return a.instances }
func (a *App) Monitors() *usecase.Monitors { return a.monitors }
func (a *App) Controller() *usecase.Controller { return a.controller }

func (a *App) Run(ctx context.Context) error {
	if err := a.controller.ReloadAll(ctx); err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}

	a.scheduler.Start()
	a.logger.Infof("Scheduler started with %d job(s)", a.scheduler.Len())
	a.logger.Infof("Backup destinations: target path + %d mirror(s)", len(a.uploadTargets))

	if a.watcher != nil {
		if err := a.watcher.Start(ctx); err != nil {
			a.logger.Warnf("Data directory watcher disabled: %v", err)
			a.watcher = nil
		}
	}

	if a.metricsServer != nil {
		go func() {
			a.logger.Infof("Serving metrics on %s", a.metricsServer.Addr)
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Errorf("Metrics server failed: %v", err)
			}
		}()
	}

	// Keep running until context is cancelled
	<-ctx.Done()
	return nil
}

func (a *App) Shutdown() {
	a.logger.Infof("Shutting down application...")

	if a.watcher != nil {
		a.watcher.Stop()
	}

	// Waits for running backups and probes
	a.scheduler.Stop()
	a.controller.Wait()

	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.logger.Warnf("Metrics server shutdown: %v", err)
		}
		cancel()
	}

	if err := a.store.Close(); err != nil {
		a.logger.Errorf("Failed to close store: %v", err)
	}
	a.logger.Close()
}
