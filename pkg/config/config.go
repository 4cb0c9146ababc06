package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string           `yaml:"environment" default:"development" validate:"oneof=development staging production test"`
	Log         LogConfig        `yaml:"log"`
	Server      ServerConfig     `yaml:"server"`
	Validator   ValidatorConfig  `yaml:"validator"`
	Scoring     ScoringConfig    `yaml:"scoring"`
	RSI         RSIConfig        `yaml:"rsi"`
	Blocker     BlockerConfig    `yaml:"blocker"`
	Monitor     MonitorConfig    `yaml:"monitor"`
	Queue       QueueConfig      `yaml:"queue"`
	Ingest      IngestConfig     `yaml:"ingest"`
	Dispatcher  DispatcherConfig `yaml:"dispatcher"`
	Risk        RiskConfig       `yaml:"risk"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	Redis       RedisConfig      `yaml:"redis"`
	Stream      StreamConfig     `yaml:"stream"`
	Housekeep   HousekeepConfig  `yaml:"housekeeping"`
}

type LogConfig struct {
	Level     string          `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format    string          `yaml:"format" default:"json" validate:"oneof=json console"`
	Output    string          `yaml:"output" default:"stdout"`
	Collector CollectorConfig `yaml:"collector"`
}

// CollectorConfig controls the error-log aggregation published to Kafka.
type CollectorConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Topic          string        `yaml:"topic" default:"signalgate.logs"`
	Interval       time.Duration `yaml:"interval" default:"30s"`
	CountThreshold int           `yaml:"count_threshold" default:"100" validate:"gte=1"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	SlowThreshold   time.Duration `yaml:"slow_threshold" default:"500ms"`
	CORS            bool          `yaml:"cors" default:"true"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps" default:"50" validate:"gte=0"`
	RateLimitBurst  float64       `yaml:"rate_limit_burst" default:"100" validate:"gte=0"`
}

type ValidatorConfig struct {
	MaxAge        time.Duration `yaml:"max_age" default:"5m"`
	MaxFutureSkew time.Duration `yaml:"max_future_skew" default:"5s"`
}

type ScoringConfig struct {
	// ModelPath is a tree-ensemble artifact on disk. ModelURL points at a
	// remote scoring service and wins when both are set.
	ModelPath      string        `yaml:"model_path" default:"models/confidence.json"`
	ModelURL       string        `yaml:"model_url" validate:"omitempty,url"`
	MinProbability float64       `yaml:"min_probability" default:"0.6" validate:"gte=0,lte=1"`
	Timeout        time.Duration `yaml:"timeout" default:"250ms"`
	BatchLimit     int           `yaml:"batch_limit" default:"8" validate:"gte=1"`
}

type RSIConfig struct {
	MinSamples   int     `yaml:"min_samples" default:"20" validate:"gte=2"`
	Window       int     `yaml:"window" default:"100" validate:"gte=2"`
	AnomalyZ     float64 `yaml:"anomaly_z" default:"2" validate:"gt=0"`
	IndicatorKey string  `yaml:"indicator_key" default:"rsi"`
}

type BlockerConfig struct {
	LossThreshold  int           `yaml:"loss_threshold" default:"3" validate:"gte=1"`
	BaseBackoff    time.Duration `yaml:"base_backoff" default:"1h"`
	MaxBackoff     time.Duration `yaml:"max_backoff" default:"24h"`
	MaxSlippageBps float64       `yaml:"max_slippage_bps" default:"50" validate:"gte=0"`
}

type ThresholdConfig struct {
	DegradedReject float64 `yaml:"degraded_reject" validate:"gte=0,lte=1"`
	CriticalReject float64 `yaml:"critical_reject" validate:"gte=0,lte=1"`
	DegradedError  float64 `yaml:"degraded_error" validate:"gte=0,lte=1"`
	CriticalError  float64 `yaml:"critical_error" validate:"gte=0,lte=1"`
}

type MonitorConfig struct {
	Window    int                        `yaml:"window" default:"500" validate:"gte=1"`
	MinSample int                        `yaml:"min_sample" default:"20" validate:"gte=1"`
	Default   ThresholdConfig            `yaml:"thresholds"`
	PerStage  map[string]ThresholdConfig `yaml:"stage_thresholds" validate:"dive"`
}

type QueueConfig struct {
	Capacity int           `yaml:"capacity" default:"1000" validate:"gte=1"`
	TTL      time.Duration `yaml:"ttl" default:"30s"`
}

type IngestConfig struct {
	Shards     int     `yaml:"shards" default:"4" validate:"gte=1"`
	BufferSize int     `yaml:"buffer_size" default:"256" validate:"gte=1"`
}

type DispatcherConfig struct {
	Workers       int           `yaml:"workers" default:"1" validate:"gte=1"`
	PollInterval  time.Duration `yaml:"poll_interval" default:"500ms"`
	SubmitTimeout time.Duration `yaml:"submit_timeout" default:"2s"`
}

type RiskConfig struct {
	URL     string        `yaml:"url" default:"http://localhost:8090" validate:"required,url"`
	Path    string        `yaml:"path" default:"/risk/submit"`
	Timeout time.Duration `yaml:"timeout" default:"2s"`
}

type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers" validate:"required_if=Enabled true"`
	RequiredAcks int      `yaml:"required_acks" default:"-1" validate:"oneof=-1 0 1"`
	Compression  string   `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
	Topics       struct {
		Snapshots string `yaml:"snapshots" default:"signalgate.snapshots"`
		Outcomes  string `yaml:"outcomes" default:"signalgate.outcomes"`
		Decisions string `yaml:"decisions" default:"signalgate.decisions"`
	} `yaml:"topics"`
	Producer struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"5"`
		Linger       time.Duration `yaml:"linger" default:"10ms"`
		BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID     string        `yaml:"group_id" default:"signalgate"`
		StartOffset string        `yaml:"start_offset" default:"latest" validate:"oneof=earliest latest"`
		Workers     int           `yaml:"workers" default:"4" validate:"gte=1"`
		BufferSize  int           `yaml:"buffer_size" default:"1000"`
		RetryMax    int           `yaml:"retry_max" default:"3"`
		BackoffMin  time.Duration `yaml:"backoff_min" default:"100ms"`
		BackoffMax  time.Duration `yaml:"backoff_max" default:"5s"`
		DLQTopic    string        `yaml:"dlq_topic" default:"signalgate.dlq"`
		MinBytes    int           `yaml:"min_bytes" default:"1"`
		MaxBytes    int           `yaml:"max_bytes" default:"10485760"`
		SlowHandler time.Duration `yaml:"slow_handler" default:"500ms"`
	} `yaml:"consumer"`
}

type ClickHouseConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"signalgate"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	BatchSize        int           `yaml:"batch_size" default:"500" validate:"gte=1"`
	FlushInterval    time.Duration `yaml:"flush_interval" default:"1s"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size" default:"10"`
	Prefix   string `yaml:"prefix" default:"signalgate"`
}

type StreamConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url" default:"wss://ws.finnhub.io" validate:"required_if=Enabled true"`
	Token          string        `yaml:"token"`
	Symbols        []string      `yaml:"symbols"`
	Interval       time.Duration `yaml:"interval" default:"1m"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
}

type HousekeepConfig struct {
	ExpireSpec  string        `yaml:"expire_spec" default:"@every 5s"`
	PersistSpec string        `yaml:"persist_spec" default:"@every 1m"`
	ResetSpec   string        `yaml:"reset_spec"`
	LockTTL     time.Duration `yaml:"lock_ttl" default:"30s"`
	Timeout     time.Duration `yaml:"timeout" default:"10s"`
}

// Load reads the YAML file at path on top of the defaults, applies
// environment overrides and validates the result. A missing .env file is
// not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c := &Config{}
	if err := defaults.Set(c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("MODEL_PATH"); v != "" {
		c.Scoring.ModelPath = v
	}
	if v := os.Getenv("MODEL_URL"); v != "" {
		c.Scoring.ModelURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		host, port, err := net.SplitHostPort(v)
		if err != nil {
			return fmt.Errorf("REDIS_ADDR: %w", err)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("REDIS_ADDR port: %w", err)
		}
		c.Redis.Host, c.Redis.Port, c.Redis.Enabled = host, p, true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("STREAM_TOKEN"); v != "" {
		c.Stream.Token = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Stream.Symbols = splitList(v)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var validate = validator.New()

// Validate checks field rules and the cross-field constraints the tags
// cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Blocker.MaxBackoff < c.Blocker.BaseBackoff {
		return fmt.Errorf("blocker.max_backoff %s is below base_backoff %s", c.Blocker.MaxBackoff, c.Blocker.BaseBackoff)
	}
	if c.Scoring.ModelPath == "" && c.Scoring.ModelURL == "" {
		return fmt.Errorf("scoring needs model_path or model_url")
	}
	if c.Stream.Enabled && len(c.Stream.Symbols) == 0 {
		return fmt.Errorf("stream.symbols cannot be empty when the stream is enabled")
	}
	if c.Log.Collector.Enabled && !c.Kafka.Enabled {
		return fmt.Errorf("log.collector requires kafka")
	}
	return nil
}
