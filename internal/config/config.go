package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Device   DeviceConfig   `yaml:"device"`
	Capture  CaptureConfig  `yaml:"capture"`
	Detect   DetectConfig   `yaml:"detect"`
	Upload   UploadConfig   `yaml:"upload"`
	Platform PlatformConfig `yaml:"platform"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Alerting AlertingConfig `yaml:"alerting"`
	Health   HealthConfig   `yaml:"health"`
	Backup   BackupConfig   `yaml:"backup"`
	MinIO    MinIOConfig    `yaml:"minio"`
	NATS     NATSConfig     `yaml:"nats"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

// DeviceConfig identifies this edge device to the remote platform.
type DeviceConfig struct {
	ID           string   `yaml:"id"`
	Address      string   `yaml:"address"`
	Capabilities []string `yaml:"capabilities"`
}

type CaptureConfig struct {
	Source           string        `yaml:"source"` // ffmpeg input URL, or "synthetic"
	Interval         time.Duration `yaml:"interval"`
	FrameWidth       int           `yaml:"frame_width"`
	OpenRetries      int           `yaml:"open_retries"`
	ReadFailureLimit int           `yaml:"read_failure_limit"`
}

type DetectConfig struct {
	ModelsDir           string        `yaml:"models_dir"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	WorkerCount         int           `yaml:"worker_count"`
	InferenceTimeout    time.Duration `yaml:"inference_timeout"`
	Segmentation        bool          `yaml:"segmentation"`
}

type UploadConfig struct {
	MaxRetries           int           `yaml:"max_retries"`
	BackoffBase          time.Duration `yaml:"backoff_base"`
	BackoffMax           time.Duration `yaml:"backoff_max"`
	MaxConcurrentUploads int           `yaml:"max_concurrent_uploads"`
	UploadEmpty          bool          `yaml:"upload_empty"`
	DeadLetterDir        string        `yaml:"deadletter_dir"`
}

type PlatformConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	Timeout      time.Duration `yaml:"timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

type PipelineConfig struct {
	FrameQueueSize  int           `yaml:"frame_queue_size"`
	ResultQueueSize int           `yaml:"result_queue_size"`
	RestartLimit    int           `yaml:"restart_limit"`
	RestartWindow   time.Duration `yaml:"restart_window"`
	DrainTimeout    time.Duration `yaml:"drain_timeout"`
}

type MetricsConfig struct {
	CollectionInterval time.Duration `yaml:"collection_interval"`
	HistorySize        int           `yaml:"history_size"`
}

// AlertRuleConfig defines one threshold rule evaluated on every collection tick.
type AlertRuleConfig struct {
	Name      string        `yaml:"name"`
	Metric    string        `yaml:"metric"`
	Op        string        `yaml:"op"` // >, >=, <, <=, ==
	Threshold float64       `yaml:"threshold"`
	Severity  string        `yaml:"severity"` // info, warning, critical
	Cooldown  time.Duration `yaml:"cooldown"`
}

type AlertingConfig struct {
	Rules       []AlertRuleConfig `yaml:"rules"`
	HistorySize int               `yaml:"history_size"`
	WebhookURL  string            `yaml:"webhook_url"`
	Email       EmailConfig       `yaml:"email"`
}

type EmailConfig struct {
	SMTPAddr string   `yaml:"smtp_addr"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

type HealthConfig struct {
	CheckInterval    time.Duration `yaml:"check_interval"`
	CPUWarn          float64       `yaml:"cpu_warn"`
	CPUCritical      float64       `yaml:"cpu_critical"`
	MemoryWarn       float64       `yaml:"memory_warn"`
	MemoryCritical   float64       `yaml:"memory_critical"`
	DiskWarn         float64       `yaml:"disk_warn"`
	DiskCritical     float64       `yaml:"disk_critical"`
	ProbeDir         string        `yaml:"probe_dir"`
	RecoveryCooldown time.Duration `yaml:"recovery_cooldown"`
	HistorySize      int           `yaml:"history_size"`
}

type BackupConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Interval       time.Duration `yaml:"interval"`
	Prefix         string        `yaml:"prefix"`
	IncludeMetrics bool          `yaml:"include_metrics"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Device.ID == "" {
		return fmt.Errorf("device.id is required")
	}
	if cfg.Capture.Source == "" {
		return fmt.Errorf("capture.source is required")
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", cfg.Logging.Format)
	}
	for _, r := range cfg.Alerting.Rules {
		switch r.Op {
		case ">", ">=", "<", "<=", "==":
		default:
			return fmt.Errorf("alert rule %s: unknown comparator %q", r.Name, r.Op)
		}
		switch r.Severity {
		case "info", "warning", "critical":
		default:
			return fmt.Errorf("alert rule %s: unknown severity %q", r.Name, r.Severity)
		}
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Capture.Interval == 0 {
		cfg.Capture.Interval = 5 * time.Second
	}
	if cfg.Capture.FrameWidth == 0 {
		cfg.Capture.FrameWidth = 640
	}
	if cfg.Capture.OpenRetries == 0 {
		cfg.Capture.OpenRetries = 5
	}
	if cfg.Capture.ReadFailureLimit == 0 {
		cfg.Capture.ReadFailureLimit = 10
	}
	if cfg.Detect.ConfidenceThreshold == 0 {
		cfg.Detect.ConfidenceThreshold = 0.5
	}
	if cfg.Detect.WorkerCount == 0 {
		cfg.Detect.WorkerCount = 1 // keeps capture order
	}
	if cfg.Detect.InferenceTimeout == 0 {
		cfg.Detect.InferenceTimeout = 10 * time.Second
	}
	if cfg.Upload.MaxRetries == 0 {
		cfg.Upload.MaxRetries = 3
	}
	if cfg.Upload.BackoffBase == 0 {
		cfg.Upload.BackoffBase = 500 * time.Millisecond
	}
	if cfg.Upload.BackoffMax == 0 {
		cfg.Upload.BackoffMax = 30 * time.Second
	}
	if cfg.Upload.MaxConcurrentUploads == 0 {
		cfg.Upload.MaxConcurrentUploads = 4
	}
	if cfg.Upload.DeadLetterDir == "" {
		cfg.Upload.DeadLetterDir = "data/deadletter"
	}
	if cfg.Platform.Timeout == 0 {
		cfg.Platform.Timeout = 10 * time.Second
	}
	if cfg.Platform.PingInterval == 0 {
		cfg.Platform.PingInterval = 30 * time.Second
	}
	if cfg.Pipeline.FrameQueueSize == 0 {
		cfg.Pipeline.FrameQueueSize = 32
	}
	if cfg.Pipeline.ResultQueueSize == 0 {
		cfg.Pipeline.ResultQueueSize = 64
	}
	if cfg.Pipeline.RestartLimit == 0 {
		cfg.Pipeline.RestartLimit = 3
	}
	if cfg.Pipeline.RestartWindow == 0 {
		cfg.Pipeline.RestartWindow = 10 * time.Minute
	}
	if cfg.Pipeline.DrainTimeout == 0 {
		cfg.Pipeline.DrainTimeout = 15 * time.Second
	}
	if cfg.Metrics.CollectionInterval == 0 {
		cfg.Metrics.CollectionInterval = 10 * time.Second
	}
	if cfg.Metrics.HistorySize == 0 {
		cfg.Metrics.HistorySize = 1000
	}
	if cfg.Alerting.HistorySize == 0 {
		cfg.Alerting.HistorySize = 500
	}
	if cfg.Health.CheckInterval == 0 {
		cfg.Health.CheckInterval = 30 * time.Second
	}
	if cfg.Health.CPUWarn == 0 {
		cfg.Health.CPUWarn = 80
	}
	if cfg.Health.CPUCritical == 0 {
		cfg.Health.CPUCritical = 95
	}
	if cfg.Health.MemoryWarn == 0 {
		cfg.Health.MemoryWarn = 80
	}
	if cfg.Health.MemoryCritical == 0 {
		cfg.Health.MemoryCritical = 95
	}
	if cfg.Health.DiskWarn == 0 {
		cfg.Health.DiskWarn = 85
	}
	if cfg.Health.DiskCritical == 0 {
		cfg.Health.DiskCritical = 95
	}
	if cfg.Health.ProbeDir == "" {
		cfg.Health.ProbeDir = "data"
	}
	if cfg.Health.RecoveryCooldown == 0 {
		cfg.Health.RecoveryCooldown = 5 * time.Minute
	}
	if cfg.Health.HistorySize == 0 {
		cfg.Health.HistorySize = 200
	}
	if cfg.Backup.Interval == 0 {
		cfg.Backup.Interval = time.Hour
	}
	if cfg.Backup.Prefix == "" {
		cfg.Backup.Prefix = "backups"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EW_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("EW_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("EW_DEVICE_ID"); v != "" {
		cfg.Device.ID = v
	}
	if v := os.Getenv("EW_CAPTURE_SOURCE"); v != "" {
		cfg.Capture.Source = v
	}
	if v := os.Getenv("EW_PLATFORM_URL"); v != "" {
		cfg.Platform.BaseURL = v
	}
	if v := os.Getenv("EW_PLATFORM_API_KEY"); v != "" {
		cfg.Platform.APIKey = v
	}
	if v := os.Getenv("EW_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("EW_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("EW_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("EW_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("EW_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("EW_MODELS_DIR"); v != "" {
		cfg.Detect.ModelsDir = v
	}
	if v := os.Getenv("EW_DETECT_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Detect.WorkerCount = n
		}
	}
}
