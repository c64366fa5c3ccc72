package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Sandbox drivers.
const (
	SandboxPiston = "piston"
	SandboxDocker = "docker"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName      string
	AppEnv       string
	AppPort      string
	AllowOrigins string

	DatabaseURL         string
	RedisURL            string
	NATSURL             string
	RealtimeChannelBase string

	JWTSecret string

	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string

	SandboxDriver     string
	SandboxURL        string
	DockerHost        string
	CodeRunMemoryMB   int
	CodeRunCPUShares  int
	CompileTimeout    time.Duration
	RunTimeout        time.Duration
	EvaluationTimeout time.Duration
	EvaluationWorkers int
	EvaluationQueue   int
	StaleAfter        time.Duration
	SweepInterval     time.Duration
	CodeSubmitLimit   int
	CodeSubmitWindow  time.Duration
	PostCommitTimeout time.Duration
	SSEKeepAlive      time.Duration
	ShutdownTimeout   time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// IsProduction reports whether the service runs in the production environment.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Assessment API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("cors.allow_origins", "*")
	v.SetDefault("realtime.channel", "gema")
	v.SetDefault("cloudinary.folder", "gema/designs")
	v.SetDefault("sandbox.driver", SandboxPiston)
	v.SetDefault("sandbox.url", "http://localhost:2000")
	v.SetDefault("code_run_memory_mb", 256)
	v.SetDefault("code_run_cpu_shares", 512)
	v.SetDefault("evaluation.compile_timeout", "10s")
	v.SetDefault("evaluation.run_timeout", "5s")
	v.SetDefault("evaluation.timeout", "0s")
	v.SetDefault("evaluation.workers", 4)
	v.SetDefault("evaluation.queue_size", 128)
	v.SetDefault("evaluation.stale_after", "0s")
	v.SetDefault("evaluation.sweep_interval", "1m")
	v.SetDefault("code_submit.limit", 5)
	v.SetDefault("code_submit.window", "1m")
	v.SetDefault("post_commit.timeout", "10s")
	v.SetDefault("sse.keep_alive", "30s")
	v.SetDefault("shutdown.timeout", "15s")

	durations := map[string]*time.Duration{}
	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		AllowOrigins:           v.GetString("cors.allow_origins"),
		DatabaseURL:            v.GetString("database.url"),
		RedisURL:               v.GetString("redis.url"),
		NATSURL:                v.GetString("nats.url"),
		RealtimeChannelBase:    v.GetString("realtime.channel"),
		JWTSecret:              v.GetString("jwt.secret"),
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
		SandboxDriver:          strings.ToLower(strings.TrimSpace(v.GetString("sandbox.driver"))),
		SandboxURL:             v.GetString("sandbox.url"),
		DockerHost:             v.GetString("docker_host"),
		CodeRunMemoryMB:        v.GetInt("code_run_memory_mb"),
		CodeRunCPUShares:       v.GetInt("code_run_cpu_shares"),
		EvaluationWorkers:      v.GetInt("evaluation.workers"),
		EvaluationQueue:        v.GetInt("evaluation.queue_size"),
		CodeSubmitLimit:        v.GetInt("code_submit.limit"),
	}

	durations["evaluation.compile_timeout"] = &cfg.CompileTimeout
	durations["evaluation.run_timeout"] = &cfg.RunTimeout
	durations["evaluation.timeout"] = &cfg.EvaluationTimeout
	durations["evaluation.stale_after"] = &cfg.StaleAfter
	durations["evaluation.sweep_interval"] = &cfg.SweepInterval
	durations["code_submit.window"] = &cfg.CodeSubmitWindow
	durations["post_commit.timeout"] = &cfg.PostCommitTimeout
	durations["sse.keep_alive"] = &cfg.SSEKeepAlive
	durations["shutdown.timeout"] = &cfg.ShutdownTimeout

	for key, target := range durations {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		if parsed < 0 {
			return Config{}, fmt.Errorf("invalid %s: must not be negative", key)
		}
		*target = parsed
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt secret must be provided")
	}

	switch c.SandboxDriver {
	case SandboxPiston:
		if strings.TrimSpace(c.SandboxURL) == "" {
			return fmt.Errorf("sandbox url must be provided for the piston driver")
		}
	case SandboxDocker:
	default:
		return fmt.Errorf("unknown sandbox driver %q", c.SandboxDriver)
	}

	if c.CompileTimeout == 0 || c.RunTimeout == 0 {
		return fmt.Errorf("compile and run timeouts must be positive")
	}
	if c.EvaluationWorkers <= 0 {
		return fmt.Errorf("evaluation workers must be positive")
	}
	if c.EvaluationQueue <= 0 {
		return fmt.Errorf("evaluation queue size must be positive")
	}

	if c.CodeRunMemoryMB <= 0 {
		c.CodeRunMemoryMB = 256
	}
	if c.CodeRunCPUShares <= 0 {
		c.CodeRunCPUShares = 512
	}
	if c.CodeSubmitLimit <= 0 {
		c.CodeSubmitLimit = 5
	}
	return nil
}
