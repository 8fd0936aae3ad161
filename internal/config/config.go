// Package config loads application configuration from file and environment.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	ProcessorsFile string `yaml:"processors_file" mapstructure:"processors_file"`

	Store      StoreConfig                `yaml:"store" mapstructure:"store"`
	NATS       NATSConfig                 `yaml:"nats" mapstructure:"nats"`
	Engine     EngineConfig               `yaml:"engine" mapstructure:"engine"`
	Breaker    BreakerConfig              `yaml:"breaker" mapstructure:"breaker"`
	Backfill   BackfillConfig             `yaml:"backfill" mapstructure:"backfill"`
	Priority   PriorityConfig             `yaml:"priority" mapstructure:"priority"`
	Processors map[string]ProcessorConfig `yaml:"processors" mapstructure:"processors"`
	Monitoring MonitoringConfig           `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig               `yaml:"server" mapstructure:"server"`
	Log        LogConfig                  `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the Postgres backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// NATSConfig configures the JetStream connection for the backfill queue and
// correction events.
type NATSConfig struct {
	URL            string `yaml:"url" mapstructure:"url"`
	BackfillStream string `yaml:"backfill_stream" mapstructure:"backfill_stream"`
	CorrectionPref string `yaml:"correction_prefix" mapstructure:"correction_prefix"`
	Durable        string `yaml:"durable" mapstructure:"durable"`
}

// EngineConfig holds engine-wide evaluation defaults. Per-processor values
// in ProcessorConfig override these, so thresholds have a single source of
// truth instead of being scattered across processor code.
type EngineConfig struct {
	CheckTimeoutSecs  int   `yaml:"check_timeout_secs" mapstructure:"check_timeout_secs"`
	GapLookbackDays   int   `yaml:"gap_lookback_days" mapstructure:"gap_lookback_days"`
	GapAutoThreshold  int   `yaml:"gap_auto_threshold" mapstructure:"gap_auto_threshold"`
	GapMinRows        int   `yaml:"gap_min_rows" mapstructure:"gap_min_rows"`
	ExpectedWindow    int   `yaml:"expected_window" mapstructure:"expected_window"`
	StalenessWarnHrs  int   `yaml:"staleness_warn_hours" mapstructure:"staleness_warn_hours"`
	StalenessFailHrs  int   `yaml:"staleness_fail_hours" mapstructure:"staleness_fail_hours"`
	DependencyMinRows int64 `yaml:"dependency_min_rows" mapstructure:"dependency_min_rows"`
}

// BreakerConfig configures the per-processor circuit breakers.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	CooldownSecs     int `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
}

// BackfillConfig configures recovery job handling. RunnerURL is the
// execution layer's webhook; the worker hands it PROCEED verdicts for
// recovery units.
type BackfillConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	WorkerRate       float64 `yaml:"worker_rate" mapstructure:"worker_rate"`
	WorkerBurst      int     `yaml:"worker_burst" mapstructure:"worker_burst"`
	RequeueDelaySecs int     `yaml:"requeue_delay_secs" mapstructure:"requeue_delay_secs"`
	RunnerURL        string  `yaml:"runner_url" mapstructure:"runner_url"`
}

// PriorityConfig configures deadline horizons for the classifier.
type PriorityConfig struct {
	CriticalHorizonMins int `yaml:"critical_horizon_mins" mapstructure:"critical_horizon_mins"`
	HighHorizonMins     int `yaml:"high_horizon_mins" mapstructure:"high_horizon_mins"`
	LowHorizonMins      int `yaml:"low_horizon_mins" mapstructure:"low_horizon_mins"`
}

// DependencySpecConfig declares one upstream requirement in config form.
type DependencySpecConfig struct {
	Source             string `yaml:"source" mapstructure:"source"`
	DateField          string `yaml:"date_field" mapstructure:"date_field"`
	EntityField        string `yaml:"entity_field" mapstructure:"entity_field"`
	Critical           bool   `yaml:"critical" mapstructure:"critical"`
	StalenessWarnHours int    `yaml:"staleness_warn_hours" mapstructure:"staleness_warn_hours"`
	StalenessFailHours int    `yaml:"staleness_fail_hours" mapstructure:"staleness_fail_hours"`
	MinRows            int64  `yaml:"min_rows" mapstructure:"min_rows"`
}

// ProcessorConfig holds per-processor overrides and declarations.
type ProcessorConfig struct {
	OutputTable      string                 `yaml:"output_table" mapstructure:"output_table"`
	OutputDateColumn string                 `yaml:"output_date_column" mapstructure:"output_date_column"`
	EntityColumn     string                 `yaml:"entity_column" mapstructure:"entity_column"`
	ExpectedWindow   int                    `yaml:"expected_window" mapstructure:"expected_window"`
	GapAutoThreshold int                    `yaml:"gap_auto_threshold" mapstructure:"gap_auto_threshold"`
	GapLookbackDays  int                    `yaml:"gap_lookback_days" mapstructure:"gap_lookback_days"`
	GapMinRows       int                    `yaml:"gap_min_rows" mapstructure:"gap_min_rows"`
	Dependencies     []DependencySpecConfig `yaml:"dependencies" mapstructure:"dependencies"`
}

// MonitoringConfig configures the background alert checker.
type MonitoringConfig struct {
	WebhookURL          string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs   int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	BlockRateThreshold  float64 `yaml:"block_rate_threshold" mapstructure:"block_rate_threshold"`
	QueueDepthThreshold int     `yaml:"queue_depth_threshold" mapstructure:"queue_depth_threshold"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// CheckTimeout returns the bounded timeout applied to each external read.
func (e EngineConfig) CheckTimeout() time.Duration {
	if e.CheckTimeoutSecs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(e.CheckTimeoutSecs) * time.Second
}

// Cooldown returns the open-state cool-down before a half-open probe.
func (b BreakerConfig) Cooldown() time.Duration {
	if b.CooldownSecs <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(b.CooldownSecs) * time.Second
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FLOWGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.backfill_stream", "FLOWGATE_BACKFILL")
	v.SetDefault("nats.correction_prefix", "flowgate.corrections")
	v.SetDefault("nats.durable", "flowgate-worker")
	v.SetDefault("engine.check_timeout_secs", 5)
	v.SetDefault("engine.gap_lookback_days", 30)
	v.SetDefault("engine.gap_auto_threshold", 3)
	v.SetDefault("engine.gap_min_rows", 1)
	v.SetDefault("engine.expected_window", 10)
	v.SetDefault("engine.staleness_warn_hours", 6)
	v.SetDefault("engine.staleness_fail_hours", 24)
	v.SetDefault("engine.dependency_min_rows", 1)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.cooldown_secs", 600)
	v.SetDefault("backfill.max_attempts", 3)
	v.SetDefault("backfill.worker_rate", 2.0)
	v.SetDefault("backfill.worker_burst", 1)
	v.SetDefault("backfill.requeue_delay_secs", 60)
	v.SetDefault("priority.critical_horizon_mins", 120)
	v.SetDefault("priority.high_horizon_mins", 1440)
	v.SetDefault("priority.low_horizon_mins", 10080)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.block_rate_threshold", 0.25)
	v.SetDefault("monitoring.queue_depth_threshold", 50)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	// Processors declared in a standalone file override inline entries.
	if cfg.ProcessorsFile != "" {
		procs, err := LoadProcessorsFile(cfg.ProcessorsFile)
		if err != nil {
			return nil, err
		}
		if cfg.Processors == nil {
			cfg.Processors = make(map[string]ProcessorConfig, len(procs))
		}
		for name, pc := range procs {
			cfg.Processors[name] = pc
		}
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
