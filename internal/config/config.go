package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all service configuration.
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
//
// Defaults match the docker-compose topology of the platform.
type Config struct {
	// PostgreSQL (shared with the backend; this service only appends
	// behavior_events and reads the platform tables)
	DBHost      string `env:"DB_HOST" envDefault:"postgres"`
	DBPort      int    `env:"DB_PORT" envDefault:"5432"`
	DBName      string `env:"DB_NAME" envDefault:"examdb"`
	DBUser      string `env:"DB_USER" envDefault:"examuser"`
	DBPassword  string `env:"DB_PASSWORD" envDefault:"exampass"`
	DatabaseURL string `env:"DATABASE_URL"` // computed from the parts above when empty

	// RabbitMQ
	RabbitHost     string `env:"RABBITMQ_HOST" envDefault:"rabbitmq"`
	RabbitPort     int    `env:"RABBITMQ_PORT" envDefault:"5672"`
	RabbitUser     string `env:"RABBITMQ_USER" envDefault:"examuser"`
	RabbitPassword string `env:"RABBITMQ_PASSWORD" envDefault:"exampass"`
	RabbitVHost    string `env:"RABBITMQ_VHOST" envDefault:"/"`
	RabbitURL      string `env:"RABBITMQ_URL"` // computed from the parts above when empty

	// Queue / exchange names. The backend owns every declaration; these must
	// match its topology exactly (consumers only assert passively).
	ExchangeName      string `env:"EXCHANGE_NAME" envDefault:"proctoring.exchange"`
	FrameQueue        string `env:"FRAME_QUEUE" envDefault:"frame.analysis"`
	AudioQueue        string `env:"AUDIO_QUEUE" envDefault:"audio.analysis"`
	BehaviorQueue     string `env:"BEHAVIOR_QUEUE" envDefault:"behavior.events"`
	ResultsRoutingKey string `env:"RESULTS_ROUTING_KEY" envDefault:"proctoring.results"`

	// MinIO / S3-compatible object store
	MinioEndpoint   string `env:"MINIO_ENDPOINT" envDefault:"minio:9000"`
	MinioAccessKey  string `env:"MINIO_ACCESS_KEY" envDefault:"minioadmin"`
	MinioSecretKey  string `env:"MINIO_SECRET_KEY" envDefault:"minioadmin"`
	MinioSecure     bool   `env:"MINIO_SECURE" envDefault:"false"`
	SnapshotsBucket string `env:"BUCKET_SNAPSHOTS" envDefault:"proctoring-snapshots"`
	ProfilesBucket  string `env:"BUCKET_PROFILES" envDefault:"profile-photos"`

	// Analysis thresholds
	FaceConfidenceThreshold  float64 `env:"FACE_CONFIDENCE_THRESHOLD" envDefault:"0.5"`
	GazeYawThreshold         float64 `env:"GAZE_YAW_THRESHOLD" envDefault:"25"` // degrees
	GazePitchThreshold       float64 `env:"GAZE_PITCH_THRESHOLD" envDefault:"25"`
	LipDistanceThreshold     float64 `env:"LIP_DISTANCE_THRESHOLD" envDefault:"0.06"` // lip gap / mouth width
	PhoneConfidenceThreshold float64 `env:"PHONE_CONFIDENCE_THRESHOLD" envDefault:"0.50"`
	NotesConfidenceThreshold float64 `env:"NOTES_CONFIDENCE_THRESHOLD" envDefault:"0.55"`
	SpeechRatioThreshold     float64 `env:"SPEECH_RATIO_THRESHOLD" envDefault:"0.20"`
	HighRiskThreshold        float64 `env:"HIGH_RISK_THRESHOLD" envDefault:"0.75"`
	CriticalThreshold        float64 `env:"CRITICAL_THRESHOLD" envDefault:"0.90"`

	// Behavior rolling window
	BehaviorWindow    time.Duration `env:"BEHAVIOR_WINDOW" envDefault:"300s"`
	BehaviorWindowCap int           `env:"BEHAVIOR_WINDOW_CAP" envDefault:"50"`

	// Identity verification
	FaceMatchThreshold float64 `env:"FACE_MATCH_THRESHOLD" envDefault:"0.6"` // face distance <= threshold => match
	VerifyRateLimit    float64 `env:"VERIFY_RATE_LIMIT" envDefault:"5"`      // requests per second
	VerifyRateBurst    int     `env:"VERIFY_RATE_BURST" envDefault:"10"`

	// Model artifacts
	ObjectModelPath   string `env:"OBJECT_MODEL_PATH" envDefault:"models/yolov8n.onnx"`
	BehaviorModelPath string `env:"BEHAVIOR_MODEL_PATH" envDefault:"models/behavior_classifier.json"`

	// HTTP server
	Port int `env:"PORT" envDefault:"8001"`

	// Runtime
	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	PublishBuffer   int           `env:"PUBLISH_BUFFER" envDefault:"256"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from the .env file and environment variables.
// Priority: ENV vars > .env file > defaults.
//
// The logger is optional; pass nil before logging is configured.
func Load(logger *zerolog.Logger) (*Config, error) {
	// .env is a development convenience; in containers the environment is
	// provided directly and the file is absent.
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.deriveURLs()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// deriveURLs fills DatabaseURL and RabbitURL from their component fields
// when they were not provided explicitly.
func (c *Config) deriveURLs() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			url.QueryEscape(c.DBUser), url.QueryEscape(c.DBPassword),
			c.DBHost, c.DBPort, c.DBName)
	}
	if c.RabbitURL == "" {
		vhost := "/"
		if c.RabbitVHost != "" && c.RabbitVHost != "/" {
			vhost = "/" + url.PathEscape(c.RabbitVHost)
		}
		c.RabbitURL = fmt.Sprintf("amqp://%s:%s@%s:%d%s",
			url.QueryEscape(c.RabbitUser), url.QueryEscape(c.RabbitPassword),
			c.RabbitHost, c.RabbitPort, vhost)
	}
}

// Validate checks configuration for errors. The process must not start
// consumers with an invalid configuration.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be 1-65535, got %d", c.Port)
	}

	if c.ExchangeName == "" {
		return fmt.Errorf("EXCHANGE_NAME is required")
	}
	if c.FrameQueue == "" || c.AudioQueue == "" || c.BehaviorQueue == "" {
		return fmt.Errorf("queue names must not be empty")
	}
	if c.ResultsRoutingKey == "" {
		return fmt.Errorf("RESULTS_ROUTING_KEY is required")
	}
	if c.SnapshotsBucket == "" || c.ProfilesBucket == "" {
		return fmt.Errorf("bucket names must not be empty")
	}

	// Unit-interval thresholds
	unitChecks := []struct {
		name  string
		value float64
	}{
		{"FACE_CONFIDENCE_THRESHOLD", c.FaceConfidenceThreshold},
		{"PHONE_CONFIDENCE_THRESHOLD", c.PhoneConfidenceThreshold},
		{"NOTES_CONFIDENCE_THRESHOLD", c.NotesConfidenceThreshold},
		{"SPEECH_RATIO_THRESHOLD", c.SpeechRatioThreshold},
		{"HIGH_RISK_THRESHOLD", c.HighRiskThreshold},
		{"CRITICAL_THRESHOLD", c.CriticalThreshold},
		{"FACE_MATCH_THRESHOLD", c.FaceMatchThreshold},
	}
	for _, chk := range unitChecks {
		if chk.value < 0 || chk.value > 1 {
			return fmt.Errorf("%s must be 0-1, got %g", chk.name, chk.value)
		}
	}
	if c.CriticalThreshold < c.HighRiskThreshold {
		return fmt.Errorf("CRITICAL_THRESHOLD (%.2f) must be >= HIGH_RISK_THRESHOLD (%.2f)",
			c.CriticalThreshold, c.HighRiskThreshold)
	}

	if c.GazeYawThreshold <= 0 || c.GazePitchThreshold <= 0 {
		return fmt.Errorf("gaze thresholds must be > 0 degrees")
	}
	if c.LipDistanceThreshold <= 0 {
		return fmt.Errorf("LIP_DISTANCE_THRESHOLD must be > 0, got %g", c.LipDistanceThreshold)
	}

	if c.BehaviorWindow <= 0 {
		return fmt.Errorf("BEHAVIOR_WINDOW must be > 0, got %s", c.BehaviorWindow)
	}
	if c.BehaviorWindowCap < 1 {
		return fmt.Errorf("BEHAVIOR_WINDOW_CAP must be > 0, got %d", c.BehaviorWindowCap)
	}

	if c.VerifyRateLimit <= 0 {
		return fmt.Errorf("VERIFY_RATE_LIMIT must be > 0, got %g", c.VerifyRateLimit)
	}
	if c.VerifyRateBurst < 1 {
		return fmt.Errorf("VERIFY_RATE_BURST must be > 0, got %d", c.VerifyRateBurst)
	}
	if c.PublishBuffer < 1 {
		return fmt.Errorf("PUBLISH_BUFFER must be > 0, got %d", c.PublishBuffer)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "console": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console (got: %s)", c.LogFormat)
	}

	return nil
}

// LogConfig logs the effective configuration. Credentials are never logged.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("db_host", c.DBHost).
		Int("db_port", c.DBPort).
		Str("db_name", c.DBName).
		Str("rabbitmq_host", c.RabbitHost).
		Int("rabbitmq_port", c.RabbitPort).
		Str("exchange", c.ExchangeName).
		Str("frame_queue", c.FrameQueue).
		Str("audio_queue", c.AudioQueue).
		Str("behavior_queue", c.BehaviorQueue).
		Str("results_routing_key", c.ResultsRoutingKey).
		Str("minio_endpoint", c.MinioEndpoint).
		Str("snapshots_bucket", c.SnapshotsBucket).
		Str("profiles_bucket", c.ProfilesBucket).
		Float64("high_risk_threshold", c.HighRiskThreshold).
		Float64("critical_threshold", c.CriticalThreshold).
		Dur("behavior_window", c.BehaviorWindow).
		Int("behavior_window_cap", c.BehaviorWindowCap).
		Int("port", c.Port).
		Dur("metrics_interval", c.MetricsInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Configuration loaded")
}
