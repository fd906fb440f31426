package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "go.yaml.in/yaml/v3"
)

const DefaultPath = "configuration.yaml"

type Config struct {
	Application ApplicationConfig `yaml:"application"`
	Database    DatabaseConfig    `yaml:"database"`
	Email       EmailConfig       `yaml:"email"`
	Worker      WorkerConfig      `yaml:"worker"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	AMQP        AMQPConfig        `yaml:"amqp"`
	Log         LogConfig         `yaml:"log"`
	Admin       AdminConfig       `yaml:"admin"`
}

type ApplicationConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	BaseURL string `yaml:"base_url"`
	// SessionKey signs session and flash cookies; CSRFKey authenticates
	// CSRF tokens. Both must be at least 32 bytes.
	SessionKey      string   `yaml:"session_key"`
	CSRFKey         string   `yaml:"csrf_key"`
	SecureCookies   bool     `yaml:"secure_cookies"`
	TrustedOrigins  []string `yaml:"trusted_origins"`
	LoginRatePerMin int      `yaml:"login_rate_per_min"`
}

func (c ApplicationConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	User         string   `yaml:"user"`
	Password     string   `yaml:"password"`
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	Name         string   `yaml:"name"`
	SSLMode      string   `yaml:"ssl_mode"`
	MaxOpenConns int      `yaml:"max_open_conns"`
	ConnMaxIdle  Duration `yaml:"conn_max_idle"`
}

func (c DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Name,
	}
	q := u.Query()
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

const (
	ProviderPostmark = "postmark"
	ProviderResend   = "resend"
	ProviderNoop     = "noop"
)

type EmailConfig struct {
	Provider   string   `yaml:"provider"`
	BaseURL    string   `yaml:"base_url"`
	AuthToken  string   `yaml:"auth_token"`
	Sender     string   `yaml:"sender"`
	Timeout    Duration `yaml:"timeout"`
	RatePerSec int      `yaml:"rate_per_sec"`
}

type WorkerConfig struct {
	Enabled      bool     `yaml:"enabled"`
	PollInterval Duration `yaml:"poll_interval"`
	ErrorBackoff Duration `yaml:"error_backoff"`
	MaxRetries   int      `yaml:"max_retries"`
	BaseBackoff  Duration `yaml:"base_backoff"`
	MaxBackoff   Duration `yaml:"max_backoff"`
}

type IdempotencyConfig struct {
	PollInterval    Duration `yaml:"poll_interval"`
	StaleAfter      Duration `yaml:"stale_after"`
	MaxWait         Duration `yaml:"max_wait"`
	Retention       Duration `yaml:"retention"`
	CleanupSchedule string   `yaml:"cleanup_schedule"`
}

type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

type AdminConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

func Default() *Config {
	return &Config{
		Application: ApplicationConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			BaseURL:         "http://localhost:8080",
			TrustedOrigins:  []string{"localhost:8080", "127.0.0.1:8080"},
			LoginRatePerMin: 20,
		},
		Database: DatabaseConfig{
			User:         "postgres",
			Host:         "localhost",
			Port:         5432,
			Name:         "newsletter",
			SSLMode:      "disable",
			MaxOpenConns: 20,
			ConnMaxIdle:  Duration(5 * time.Minute),
		},
		Email: EmailConfig{
			Provider:   ProviderNoop,
			Sender:     "newsletter@localhost.localdomain",
			Timeout:    Duration(10 * time.Second),
			RatePerSec: 10,
		},
		Worker: WorkerConfig{
			Enabled:      true,
			PollInterval: Duration(10 * time.Second),
			ErrorBackoff: Duration(time.Second),
			MaxRetries:   5,
			BaseBackoff:  Duration(30 * time.Second),
			MaxBackoff:   Duration(time.Hour),
		},
		Idempotency: IdempotencyConfig{
			PollInterval:    Duration(50 * time.Millisecond),
			StaleAfter:      Duration(5 * time.Second),
			MaxWait:         Duration(30 * time.Second),
			Retention:       Duration(48 * time.Hour),
			CleanupSchedule: "@hourly",
		},
		AMQP: AMQPConfig{
			Exchange: "newsletter_published",
		},
		Log: LogConfig{
			Level: "info",
		},
		Admin: AdminConfig{
			Username: "admin",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, a .env file in the working directory and finally the process
// environment. Later sources win.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	envString("APP_HOST", &c.Application.Host)
	envString("APP_BASE_URL", &c.Application.BaseURL)
	envString("APP_SESSION_KEY", &c.Application.SessionKey)
	envString("APP_CSRF_KEY", &c.Application.CSRFKey)

	envString("DB_USER", &c.Database.User)
	envString("DB_PASSWORD", &c.Database.Password)
	envString("DB_HOST", &c.Database.Host)
	envString("DB_NAME", &c.Database.Name)
	envString("DB_SSLMODE", &c.Database.SSLMode)

	envString("EMAIL_PROVIDER", &c.Email.Provider)
	envString("EMAIL_BASE_URL", &c.Email.BaseURL)
	envString("EMAIL_AUTH_TOKEN", &c.Email.AuthToken)
	envString("EMAIL_SENDER", &c.Email.Sender)

	envString("AMQP_URL", &c.AMQP.URL)
	envString("LOG_LEVEL", &c.Log.Level)
	envString("ADMIN_USERNAME", &c.Admin.Username)
	envString("ADMIN_PASSWORD", &c.Admin.Password)

	if err := envInt("APP_PORT", &c.Application.Port); err != nil {
		return err
	}
	if err := envInt("DB_PORT", &c.Database.Port); err != nil {
		return err
	}
	if err := envBool("APP_SECURE_COOKIES", &c.Application.SecureCookies); err != nil {
		return err
	}
	if err := envBool("WORKER_ENABLED", &c.Worker.Enabled); err != nil {
		return err
	}
	if err := envBool("LOG_CONSOLE", &c.Log.Console); err != nil {
		return err
	}
	return envDuration("WORKER_POLL_INTERVAL", &c.Worker.PollInterval)
}

func (c *Config) Validate() error {
	var errs []error

	if c.Database.Name == "" {
		errs = append(errs, errors.New("database.name is required"))
	}
	if c.Application.Port <= 0 {
		errs = append(errs, errors.New("application.port must be positive"))
	}
	switch c.Email.Provider {
	case ProviderPostmark:
		if c.Email.BaseURL == "" {
			errs = append(errs, errors.New("email.base_url is required for the postmark provider"))
		}
	case ProviderResend:
		if c.Email.AuthToken == "" {
			errs = append(errs, errors.New("email.auth_token is required for the resend provider"))
		}
	case ProviderNoop:
	default:
		errs = append(errs, fmt.Errorf("email.provider %q is not one of postmark, resend, noop", c.Email.Provider))
	}
	if c.Worker.PollInterval <= 0 || c.Worker.BaseBackoff <= 0 || c.Worker.MaxBackoff < c.Worker.BaseBackoff {
		errs = append(errs, errors.New("worker intervals must be positive and max_backoff >= base_backoff"))
	}
	if c.Worker.MaxRetries < 0 {
		errs = append(errs, errors.New("worker.max_retries must not be negative"))
	}
	if c.Idempotency.PollInterval <= 0 || c.Idempotency.MaxWait <= 0 || c.Idempotency.StaleAfter <= 0 {
		errs = append(errs, errors.New("idempotency intervals must be positive"))
	}
	if c.Idempotency.StaleAfter >= c.Idempotency.MaxWait {
		errs = append(errs, errors.New("idempotency.stale_after must be shorter than idempotency.max_wait"))
	}
	if c.Application.SessionKey != "" && len(c.Application.SessionKey) < 32 {
		errs = append(errs, errors.New("application.session_key must be at least 32 bytes"))
	}
	if c.Application.CSRFKey != "" && len(c.Application.CSRFKey) < 32 {
		errs = append(errs, errors.New("application.csrf_key must be at least 32 bytes"))
	}

	return errors.Join(errs...)
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: invalid boolean %q: %w", key, v, err)
	}
	*dst = b
	return nil
}

func envDuration(key string, dst *Duration) error {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return nil
	}
	d, err := ParseDuration(key, v)
	if err != nil {
		return err
	}
	*dst = Duration(d)
	return nil
}
