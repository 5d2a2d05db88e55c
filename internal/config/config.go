package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the dialer processes.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	Redis   RedisConfig
	AMI     AMIConfig
	Backend BackendConfig
	Dialer  DialerConfig
	Auth    AuthConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type RedisConfig struct {
	Host string
	Port int
}

// AMIConfig describes the switch manager control channel.
type AMIConfig struct {
	Host     string
	Port     int
	Username string
	Secret   string

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

type BackendConfig struct {
	// BaseURL of the configuration store, e.g. http://backend:8000
	BaseURL string

	RequestTimeout time.Duration
}

// DialerConfig tunes the control loop. All fields are optional;
// defaults mirror the production schedule (10s pacing, 5m retry, 1m stats).
type DialerConfig struct {
	DialInterval  time.Duration
	RetryInterval time.Duration
	StatsInterval time.Duration

	// ContactBatchSize caps how many retry-eligible contacts one sweep touches.
	ContactBatchSize int

	// OriginateThrottle is the fixed delay between originations in one cycle.
	OriginateThrottle time.Duration

	// CycleTimeout bounds one campaign's pacing cycle end to end.
	CycleTimeout time.Duration

	// WorkerPoolSize caps how many campaign cycles run concurrently.
	WorkerPoolSize int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.AMI.Host = strings.TrimSpace(os.Getenv("AMI_HOST"))
	{
		n, err := mustInt("AMI_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.AMI.Port = n
	}
	c.AMI.Username = strings.TrimSpace(os.Getenv("AMI_USERNAME"))
	c.AMI.Secret = os.Getenv("AMI_SECRET")
	c.AMI.ConnectTimeout = optDuration("AMI_CONNECT_TIMEOUT")
	c.AMI.ReadTimeout = optDuration("AMI_READ_TIMEOUT")

	c.Backend.BaseURL = strings.TrimSpace(os.Getenv("BACKEND_URL"))
	c.Backend.RequestTimeout = optDuration("BACKEND_TIMEOUT")

	c.Dialer.DialInterval = optDuration("DIAL_INTERVAL")
	c.Dialer.RetryInterval = optDuration("RETRY_INTERVAL")
	c.Dialer.StatsInterval = optDuration("STATS_INTERVAL")
	c.Dialer.ContactBatchSize = optInt("CONTACT_BATCH_SIZE")
	c.Dialer.OriginateThrottle = optDuration("ORIGINATE_THROTTLE")
	c.Dialer.CycleTimeout = optDuration("CYCLE_TIMEOUT")
	c.Dialer.WorkerPoolSize = optInt("WORKER_POOL_SIZE")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = optDuration("JWT_ACCESS_TTL")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.AMI.Host == "" {
		errs = append(errs, errors.New("AMI_HOST is required"))
	}
	if c.AMI.Port <= 0 || c.AMI.Port > 65535 {
		errs = append(errs, fmt.Errorf("AMI_PORT must be a valid port, got %d", c.AMI.Port))
	}
	if c.AMI.Username == "" {
		errs = append(errs, errors.New("AMI_USERNAME is required"))
	}
	if c.AMI.Secret == "" {
		errs = append(errs, errors.New("AMI_SECRET is required"))
	}
	if c.AMI.ConnectTimeout <= 0 {
		c.AMI.ConnectTimeout = 5 * time.Second
	}
	if c.AMI.ReadTimeout <= 0 {
		c.AMI.ReadTimeout = 10 * time.Second
	}

	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("BACKEND_URL is required"))
	} else if !strings.HasPrefix(c.Backend.BaseURL, "http://") && !strings.HasPrefix(c.Backend.BaseURL, "https://") {
		errs = append(errs, fmt.Errorf("BACKEND_URL must be an http(s) URL, got %q", c.Backend.BaseURL))
	}
	if c.Backend.RequestTimeout <= 0 {
		c.Backend.RequestTimeout = 10 * time.Second
	}

	if c.Dialer.DialInterval <= 0 {
		c.Dialer.DialInterval = 10 * time.Second
	}
	if c.Dialer.RetryInterval <= 0 {
		c.Dialer.RetryInterval = 5 * time.Minute
	}
	if c.Dialer.StatsInterval <= 0 {
		c.Dialer.StatsInterval = time.Minute
	}
	if c.Dialer.ContactBatchSize <= 0 {
		c.Dialer.ContactBatchSize = 50
	}
	if c.Dialer.OriginateThrottle <= 0 {
		c.Dialer.OriginateThrottle = 100 * time.Millisecond
	}
	if c.Dialer.CycleTimeout <= 0 {
		c.Dialer.CycleTimeout = 2 * time.Minute
	}
	if c.Dialer.WorkerPoolSize <= 0 {
		c.Dialer.WorkerPoolSize = 8
	}
	if c.Dialer.CycleTimeout <= c.Dialer.OriginateThrottle {
		errs = append(errs, errors.New("CYCLE_TIMEOUT must be greater than ORIGINATE_THROTTLE"))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func (c Config) AMIAddr() string {
	return fmt.Sprintf("%s:%d", c.AMI.Host, c.AMI.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func optDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
