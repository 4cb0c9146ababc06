package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	mid "SignalGate/internal/middleware"
	"SignalGate/internal/repository"
	"SignalGate/internal/services/blocker"
	"SignalGate/internal/services/scoring"
	"SignalGate/internal/usecase"
	"SignalGate/pkg/cache"
	pkgch "SignalGate/pkg/clickhouse"
	"SignalGate/pkg/config"
	xhttp "SignalGate/pkg/http"
	pkgkafka "SignalGate/pkg/kafka"
	applogger "SignalGate/pkg/logger"
)

// Deps is everything the application runs. Optional infrastructure is nil
// when disabled in config.
type Deps struct {
	Config      *config.Config
	Logger      *applogger.Logger
	Models      *scoring.Registry
	Blocker     *blocker.Blocker
	Ingest      *mid.IngestPipeline
	Dispatcher  *usecase.Dispatcher
	Housekeeper *usecase.Housekeeper
	HTTPServer  *xhttp.Server
	Store       cache.Service

	Collector  *usecase.SnapshotCollector
	Consumer   *pkgkafka.Consumer
	Producer   *pkgkafka.Producer
	Journal    *repository.CHJournal
	ClickHouse *pkgch.Client
}

// App encapsulates the entire application lifecycle.
type App struct {
	Deps
	l *applogger.Logger
}

func New(d Deps) *App {
	return &App{Deps: d, l: d.Logger.With("app")}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.start(runCtx); err != nil {
		cancel()
		_ = a.shutdown()
		return err
	}

	<-ctx.Done()
	a.l.Info("shutdown signal received")
	cancel()
	return a.shutdown()
}

func (a *App) start(ctx context.Context) error {
	cfg := a.Config

	if cfg.Log.Collector.Enabled && a.Producer != nil {
		a.Logger.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Log.Collector.Interval,
			CountThreshold: cfg.Log.Collector.CountThreshold,
			Topic:          cfg.Log.Collector.Topic,
			Publisher:      a.Producer,
		})
	}

	if a.Journal != nil {
		if err := a.Journal.Init(ctx); err != nil {
			return err
		}
	}

	a.Housekeeper.RestoreState(ctx)

	go a.Blocker.Run(ctx)
	a.Ingest.Start(ctx)
	go func() {
		if err := a.Dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.l.Error("dispatcher stopped", applogger.Error(err))
		}
	}()
	if err := a.Housekeeper.Start(); err != nil {
		return err
	}

	if a.Consumer != nil {
		go func() {
			if err := a.Consumer.Start(); err != nil {
				a.l.Error("kafka consumer error", applogger.Error(err))
			}
		}()
	}
	if a.Collector != nil {
		if err := a.Collector.Start(ctx); err != nil {
			return err
		}
		a.l.Info("stream collector started", applogger.Strings("symbols", cfg.Stream.Symbols))
	}

	if info, ok := a.Models.Info(); ok {
		a.l.Info("model active", applogger.String("version", info.Version), applogger.Int("features", len(info.Features)))
	}
	return a.HTTPServer.Start()
}

// shutdown stops intake first, then drains and closes infrastructure.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout+5*time.Second)
	defer cancel()

	a.l.Info("shutting down")
	var errs []error

	if a.Collector != nil {
		if err := a.Collector.Stop(); err != nil {
			a.l.Warn("stream close error", applogger.Error(err))
		}
	}
	if a.Consumer != nil {
		if err := a.Consumer.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.Ingest.Stop()

	if err := a.HTTPServer.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.Housekeeper.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.Housekeeper.PersistState(ctx); err != nil {
		a.l.Warn("final state persist failed", applogger.Error(err))
	}

	if a.Journal != nil {
		if err := a.Journal.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.Logger.RemoveCollector()
	if a.Producer != nil {
		if err := a.Producer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.ClickHouse != nil {
		if err := a.ClickHouse.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	if err != nil {
		a.l.Error("shutdown finished with errors", applogger.Error(err))
		return err
	}
	a.l.Info("shutdown complete")
	return nil
}
