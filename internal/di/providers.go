package di

import (
	"context"
	"fmt"
	"time"

	"SignalGate/internal/domain/models"
	domsvc "SignalGate/internal/domain/service"
	"SignalGate/internal/handler/api"
	mid "SignalGate/internal/middleware"
	internalrepo "SignalGate/internal/repository"
	"SignalGate/internal/service/ratelimit"
	"SignalGate/internal/service/stream"
	"SignalGate/internal/services/blocker"
	"SignalGate/internal/services/features"
	"SignalGate/internal/services/monitor"
	"SignalGate/internal/services/quality"
	"SignalGate/internal/services/rsifilter"
	"SignalGate/internal/services/scoring"
	"SignalGate/internal/services/signalqueue"
	"SignalGate/internal/usecase"
	"SignalGate/pkg/cache"
	pkgch "SignalGate/pkg/clickhouse"
	"SignalGate/pkg/config"
	xhttp "SignalGate/pkg/http"
	pkgkafka "SignalGate/pkg/kafka"
	applogger "SignalGate/pkg/logger"
	"SignalGate/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// ProvideLogger builds the application logger from the log section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// ProvideRegistry creates the Prometheus registry served on /metrics.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates the pipeline metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) *metrics.Recorder {
	return metrics.New(reg)
}

// ProvideStateStore returns Redis when enabled, otherwise an in-process
// store that keeps state for the life of the process only.
func ProvideStateStore(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(), nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, 2, 30*time.Second),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideClickHouseClient connects when the journal is enabled; nil
// otherwise.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if err := client.InitSchema(ctx, []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", cfg.ClickHouse.Database),
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideJournal returns the ClickHouse gate journal, or nil without a
// client.
func ProvideJournal(cfg *config.Config, ch *pkgch.Client, l *applogger.Logger) *internalrepo.CHJournal {
	if ch == nil {
		return nil
	}
	return internalrepo.NewCHJournal(ch, cfg.ClickHouse.Database+".gate_results", l.With("journal"),
		internalrepo.WithJournalBatch(cfg.ClickHouse.BatchSize, cfg.ClickHouse.FlushInterval))
}

// ProvideKafkaProducer creates the producer when Kafka is enabled; nil
// otherwise.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithProducerRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideDecisionPublisher publishes decisions to Kafka, or nil without a
// producer.
func ProvideDecisionPublisher(cfg *config.Config, producer *pkgkafka.Producer) *internalrepo.KafkaDecisionPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaDecisionPublisher(producer, cfg.Kafka.Topics.Decisions)
}

// ProvideModelRegistry builds the registry and performs the first load.
// An unreadable or invalid model at startup is fatal.
func ProvideModelRegistry(cfg *config.Config, l *applogger.Logger) (*scoring.Registry, error) {
	var loader scoring.Loader
	if cfg.Scoring.ModelURL != "" {
		client := xhttp.NewClient(
			xhttp.WithBaseURL(cfg.Scoring.ModelURL),
			xhttp.WithTimeout(5*time.Second),
		)
		loader = func(ctx context.Context) (domsvc.Model, error) {
			return scoring.LoadHTTPModel(ctx, client)
		}
	} else {
		path := cfg.Scoring.ModelPath
		loader = func(context.Context) (domsvc.Model, error) {
			return scoring.LoadTreeEnsemble(path)
		}
	}

	reg := scoring.NewRegistry(loader, l.With("model"))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := reg.Reload(ctx); err != nil {
		return nil, fmt.Errorf("initial model load: %w", err)
	}
	return reg, nil
}

func ProvideValidator(cfg *config.Config) *quality.Validator {
	return quality.New(quality.Config{
		MaxAge:        cfg.Validator.MaxAge,
		MaxFutureSkew: cfg.Validator.MaxFutureSkew,
	})
}

func ProvideScoringGate(cfg *config.Config, reg *scoring.Registry, m *metrics.Recorder) *scoring.Gate {
	return scoring.NewGate(scoring.NewScorer(reg, cfg.Scoring.Timeout, m), cfg.Scoring.MinProbability)
}

func ProvideRSIFilter(cfg *config.Config) *rsifilter.Filter {
	return rsifilter.New(rsifilter.Config{
		MinSamples:   cfg.RSI.MinSamples,
		Window:       cfg.RSI.Window,
		AnomalyZ:     cfg.RSI.AnomalyZ,
		IndicatorKey: cfg.RSI.IndicatorKey,
	})
}

func ProvideBlocker(cfg *config.Config, l *applogger.Logger, m *metrics.Recorder) *blocker.Blocker {
	return blocker.New(blocker.Config{
		LossThreshold:  cfg.Blocker.LossThreshold,
		BaseBackoff:    cfg.Blocker.BaseBackoff,
		MaxBackoff:     cfg.Blocker.MaxBackoff,
		MaxSlippageBps: cfg.Blocker.MaxSlippageBps,
	}, l.With("blocker"), blocker.WithMetrics(m))
}

func ProvideMonitor(cfg *config.Config, l *applogger.Logger, m *metrics.Recorder) *monitor.Monitor {
	per := make(map[models.Stage]monitor.Thresholds, len(cfg.Monitor.PerStage))
	for stage, t := range cfg.Monitor.PerStage {
		per[models.Stage(stage)] = monitor.Thresholds(t)
	}
	ml := l.With("monitor")
	return monitor.New(monitor.Config{
		Window:    cfg.Monitor.Window,
		MinSample: cfg.Monitor.MinSample,
		Default:   monitor.Thresholds(cfg.Monitor.Default),
		PerStage:  per,
	},
		monitor.WithMetrics(m),
		monitor.WithHealthHook(func(stage models.Stage, from, to models.Health) {
			ml.Warn("stage health changed",
				applogger.String("stage", string(stage)),
				applogger.String("from", string(from)),
				applogger.String("to", string(to)),
			)
		}),
	)
}

func ProvideQueue(cfg *config.Config, m *metrics.Recorder) *signalqueue.Queue {
	return signalqueue.New(signalqueue.Config{Capacity: cfg.Queue.Capacity, TTL: cfg.Queue.TTL}, signalqueue.WithMetrics(m))
}

// ProvidePipeline assembles the gates in admission order.
func ProvidePipeline(
	cfg *config.Config,
	v *quality.Validator,
	sg *scoring.Gate,
	rsi *rsifilter.Filter,
	b *blocker.Blocker,
	q *signalqueue.Queue,
	mon *monitor.Monitor,
	journal *internalrepo.CHJournal,
	pub *internalrepo.KafkaDecisionPublisher,
	m *metrics.Recorder,
	l *applogger.Logger,
) *usecase.Pipeline {
	opts := []usecase.PipelineOption{
		usecase.WithObserver(rsi),
		usecase.WithPipelineMetrics(m),
		usecase.WithBatchLimit(cfg.Scoring.BatchLimit),
	}
	if journal != nil {
		opts = append(opts, usecase.WithJournal(journal))
	}
	if pub != nil {
		opts = append(opts, usecase.WithPublisher(pub))
	}
	return usecase.NewPipeline([]domsvc.Gate{v, sg, rsi, b}, q, mon, l.With("pipeline"), opts...)
}

func ProvideIngestPipeline(cfg *config.Config, p *usecase.Pipeline, m *metrics.Recorder, l *applogger.Logger) *mid.IngestPipeline {
	return mid.NewIngestPipeline(p, m, l.With("ingest"),
		mid.WithShards(cfg.Ingest.Shards),
		mid.WithBufferSize(cfg.Ingest.BufferSize),
	)
}

func ProvideRiskManager(cfg *config.Config) *internalrepo.HTTPRiskManager {
	client := xhttp.NewClient(
		xhttp.WithBaseURL(cfg.Risk.URL),
		xhttp.WithTimeout(cfg.Risk.Timeout),
	)
	return internalrepo.NewHTTPRiskManager(client, cfg.Risk.Path)
}

func ProvideDispatcher(
	cfg *config.Config,
	q *signalqueue.Queue,
	risk *internalrepo.HTTPRiskManager,
	mon *monitor.Monitor,
	journal *internalrepo.CHJournal,
	m *metrics.Recorder,
	l *applogger.Logger,
) *usecase.Dispatcher {
	opts := []usecase.DispatcherOption{usecase.WithDispatcherMetrics(m)}
	if journal != nil {
		opts = append(opts, usecase.WithDispatcherJournal(journal))
	}
	return usecase.NewDispatcher(usecase.DispatcherConfig{
		Workers:       cfg.Dispatcher.Workers,
		PollInterval:  cfg.Dispatcher.PollInterval,
		SubmitTimeout: cfg.Dispatcher.SubmitTimeout,
	}, q, risk, mon, l.With("dispatcher"), opts...)
}

func ProvideHousekeeper(
	cfg *config.Config,
	q *signalqueue.Queue,
	mon *monitor.Monitor,
	store cache.Service,
	b *blocker.Blocker,
	rsi *rsifilter.Filter,
	journal *internalrepo.CHJournal,
	l *applogger.Logger,
) *usecase.Housekeeper {
	opts := []usecase.HousekeeperOption{
		usecase.WithStateStore(store),
		usecase.WithSnapshotter("blocker", b),
		usecase.WithSnapshotter("rsi", rsi),
		usecase.WithMonitorReset(mon),
	}
	if journal != nil {
		opts = append(opts, usecase.WithHousekeepingJournal(journal))
	}
	return usecase.NewHousekeeper(usecase.HousekeepingConfig{
		ExpireSpec:  cfg.Housekeep.ExpireSpec,
		PersistSpec: cfg.Housekeep.PersistSpec,
		ResetSpec:   cfg.Housekeep.ResetSpec,
		LockTTL:     cfg.Housekeep.LockTTL,
		Timeout:     cfg.Housekeep.Timeout,
	}, q, mon, l.With("housekeeping"), opts...)
}

// ProvideKafkaConsumer subscribes the snapshot and outcome handlers when
// Kafka is enabled; nil otherwise.
func ProvideKafkaConsumer(
	cfg *config.Config,
	ingest *mid.IngestPipeline,
	b *blocker.Blocker,
	m *metrics.Recorder,
	reg *prometheus.Registry,
	l *applogger.Logger,
) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	kl := l.With("kafka")
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerStartOffset(cfg.Kafka.Consumer.StartOffset),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerRegisterer(reg),
		pkgkafka.WithConsumerLogger(kl),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(
		pkgkafka.TraceHook{},
		pkgkafka.LoggingHook{L: kl, Slow: cfg.Kafka.Consumer.SlowHandler},
	))
	consumer.RegisterHandler(usecase.NewSnapshotHandler(cfg.Kafka.Topics.Snapshots, ingest, m))
	consumer.RegisterHandler(usecase.NewOutcomeHandler(cfg.Kafka.Topics.Outcomes, b, m))
	return consumer, nil
}

// ProvideSnapshotCollector connects the live websocket feed when enabled;
// nil otherwise.
func ProvideSnapshotCollector(cfg *config.Config, ingest *mid.IngestPipeline, m *metrics.Recorder, l *applogger.Logger) *usecase.SnapshotCollector {
	if !cfg.Stream.Enabled {
		return nil
	}
	engine := features.NewEngine(features.Config{Interval: cfg.Stream.Interval})
	sl := l.With("stream")
	s := stream.New(stream.Config{
		URL:            cfg.Stream.URL,
		Token:          cfg.Stream.Token,
		Symbols:        cfg.Stream.Symbols,
		ReconnectDelay: cfg.Stream.ReconnectDelay,
		PingInterval:   cfg.Stream.PingInterval,
	}, engine, sl)
	return usecase.NewSnapshotCollector(s, ingest, m, sl)
}

// ProvideHTTPHandler exposes the pipeline components over the admin API.
func ProvideHTTPHandler(
	cfg *config.Config,
	p *usecase.Pipeline,
	ing *mid.IngestPipeline,
	b *blocker.Blocker,
	mon *monitor.Monitor,
	rsi *rsifilter.Filter,
	q *signalqueue.Queue,
	journal *internalrepo.CHJournal,
	mr *scoring.Registry,
	l *applogger.Logger,
) xhttp.Handler {
	deps := api.Deps{
		Admitter: p,
		Ticks:    ing,
		Outcomes: b,
		Monitor:  mon,
		Blocks:   b,
		RSI:      rsi,
		Queue:    q,
		Models:   mr,
	}
	if journal != nil {
		deps.Journal = journal
	}
	return api.NewAdmissionEchoHandler(l.With("api"), deps,
		api.WithRateLimit(ratelimit.New(), cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst))
}

// ProvideHTTPServer builds the Echo server with metrics served from reg.
func ProvideHTTPServer(cfg *config.Config, h xhttp.Handler, reg *prometheus.Registry, l *applogger.Logger) *xhttp.Server {
	return xhttp.NewServer(h, l.With("http"),
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
		xhttp.WithCORS(cfg.Server.CORS, cfg.Server.CORSOrigins...),
		xhttp.WithMetricsRegistry(reg, reg),
	)
}
