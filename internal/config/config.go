package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileEnv names the optional YAML file loaded before environment overrides.
const FileEnv = "SMARTCARE_CONFIG"

// Config holds all configuration required by the API process.
//
// Sources, later wins: YAML file named by SMARTCARE_CONFIG, a .env file in the
// working directory, then the process environment. No business logic should
// read raw environment variables.
type Config struct {
	App   AppConfig   `yaml:"app"`
	DB    DBConfig    `yaml:"db"`
	Redis RedisConfig `yaml:"redis"`
	Auth  AuthConfig  `yaml:"auth"`
	Calls CallsConfig `yaml:"calls"`
	MQTT  MQTTConfig  `yaml:"mqtt"`
}

type AppConfig struct {
	Env  string `yaml:"env"`
	Port int    `yaml:"port"`
	// DevTokens enables POST /v1/auth/token. Never allowed in production.
	DevTokens bool `yaml:"dev_tokens"`
}

// DBConfig points at the call history archive. An empty Host keeps history in
// memory, which only non-production environments accept.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string `yaml:"sslmode"`
}

// RedisConfig points at the signal channel. An empty Host selects the
// in-process channel (single node, non-production only).
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret"`
	JWTIssuer       string        `yaml:"jwt_issuer"`
	JWTAudience     string        `yaml:"jwt_audience"`
	AccessTokenTTL  time.Duration `yaml:"access_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_ttl"`
}

type CallsConfig struct {
	RingTimeout     time.Duration `yaml:"ring_timeout"`
	QualityInterval time.Duration `yaml:"quality_interval"`
	// MaxConcurrentPerUser caps simultaneous calls per participant.
	MaxConcurrentPerUser int           `yaml:"max_concurrent_per_user"`
	RecordTTL            time.Duration `yaml:"record_ttl"`
}

// MQTTConfig enables device notifications when Broker is set.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

func Load() (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	c := Config{}
	if path := strings.TrimSpace(os.Getenv(FileEnv)); path != "" {
		fc, err := LoadFile(path)
		if err != nil {
			return Config{}, err
		}
		c = fc
	}

	if err := c.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// LoadFile parses a YAML config file without validating it.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	var errs []error

	envString("APP_ENV", &c.App.Env)
	envInt("APP_PORT", &c.App.Port, &errs)
	envBool("APP_DEV_TOKENS", &c.App.DevTokens, &errs)

	envString("DB_HOST", &c.DB.Host)
	envInt("DB_PORT", &c.DB.Port, &errs)
	envString("DB_USER", &c.DB.User)
	envSecret("DB_PASSWORD", &c.DB.Password)
	envString("DB_NAME", &c.DB.Name)
	envString("DB_SSLMODE", &c.DB.SSLMode)

	envString("REDIS_HOST", &c.Redis.Host)
	envInt("REDIS_PORT", &c.Redis.Port, &errs)
	envSecret("REDIS_PASSWORD", &c.Redis.Password)
	envInt("REDIS_DB", &c.Redis.DB, &errs)

	envSecret("JWT_SECRET", &c.Auth.JWTSecret)
	envString("JWT_ISSUER", &c.Auth.JWTIssuer)
	envString("JWT_AUDIENCE", &c.Auth.JWTAudience)
	envDuration("JWT_ACCESS_TTL", &c.Auth.AccessTokenTTL, &errs)
	envDuration("JWT_REFRESH_TTL", &c.Auth.RefreshTokenTTL, &errs)

	envDuration("CALL_RING_TIMEOUT", &c.Calls.RingTimeout, &errs)
	envDuration("CALL_QUALITY_INTERVAL", &c.Calls.QualityInterval, &errs)
	envInt("CALL_MAX_CONCURRENT", &c.Calls.MaxConcurrentPerUser, &errs)
	envDuration("CALL_RECORD_TTL", &c.Calls.RecordTTL, &errs)

	envString("MQTT_BROKER", &c.MQTT.Broker)
	envString("MQTT_CLIENT_ID", &c.MQTT.ClientID)
	envString("MQTT_USERNAME", &c.MQTT.Username)
	envSecret("MQTT_PASSWORD", &c.MQTT.Password)
	envString("MQTT_TOPIC_PREFIX", &c.MQTT.TopicPrefix)
	envInt("MQTT_QOS", &c.MQTT.QoS, &errs)

	return joinErrors(errs)
}

// Validate checks the configuration and fills defaults in place.
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
	if c.App.DevTokens && c.IsProduction() {
		errs = append(errs, errors.New("APP_DEV_TOKENS must not be enabled in production"))
	}

	errs = append(errs, c.validateDB()...)
	errs = append(errs, c.validateRedis()...)

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
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	errs = append(errs, c.validateCalls()...)
	errs = append(errs, c.validateMQTT()...)

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_HOST is required in production"))
		}
		return errs
	}
	if c.DB.Port == 0 {
		c.DB.Port = 5432
	}
	if c.DB.Port < 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c *Config) validateRedis() []error {
	var errs []error
	if c.Redis.Host == "" {
		if c.App.Env == "staging" || c.IsProduction() {
			errs = append(errs, fmt.Errorf("REDIS_HOST is required in %s", c.App.Env))
		}
		return errs
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.Port < 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}
	if c.Redis.DB < 0 {
		errs = append(errs, fmt.Errorf("REDIS_DB must be >= 0, got %d", c.Redis.DB))
	}
	return errs
}

func (c *Config) validateCalls() []error {
	var errs []error
	if c.Calls.RingTimeout == 0 {
		c.Calls.RingTimeout = 30 * time.Second
	}
	if c.Calls.RingTimeout < time.Second {
		errs = append(errs, fmt.Errorf("CALL_RING_TIMEOUT must be at least 1s, got %s", c.Calls.RingTimeout))
	}
	if c.Calls.QualityInterval == 0 {
		c.Calls.QualityInterval = 2 * time.Second
	}
	if c.Calls.QualityInterval < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("CALL_QUALITY_INTERVAL must be at least 100ms, got %s", c.Calls.QualityInterval))
	}
	if c.Calls.MaxConcurrentPerUser == 0 {
		c.Calls.MaxConcurrentPerUser = 1
	}
	if c.Calls.MaxConcurrentPerUser < 0 {
		errs = append(errs, fmt.Errorf("CALL_MAX_CONCURRENT must be > 0, got %d", c.Calls.MaxConcurrentPerUser))
	}
	if c.Calls.RecordTTL == 0 {
		c.Calls.RecordTTL = 24 * time.Hour
	}
	if c.Calls.RecordTTL < c.Calls.RingTimeout {
		errs = append(errs, errors.New("CALL_RECORD_TTL must be longer than CALL_RING_TIMEOUT"))
	}
	return errs
}

func (c *Config) validateMQTT() []error {
	if c.MQTT.Broker == "" {
		return nil
	}
	var errs []error
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "smart-care"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "smartcare"
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) HistoryEnabled() bool { return c.DB.Host != "" }

func (c Config) RedisEnabled() bool { return c.Redis.Host != "" }

func (c Config) MQTTEnabled() bool { return c.MQTT.Broker != "" }

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return net.JoinHostPort(c.Redis.Host, strconv.Itoa(c.Redis.Port))
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// envSecret is envString without trimming; secrets are taken verbatim.
func envSecret(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int, errs *[]error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return
	}
	*dst = n
}

func envBool(key string, dst *bool, errs *[]error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
		return
	}
	*dst = b
}

func envDuration(key string, dst *time.Duration, errs *[]error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a duration, got %q", key, v))
		return
	}
	*dst = d
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
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
