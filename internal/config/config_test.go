package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:  AppConfig{Env: "local", Port: 8080},
		Auth: AuthConfig{JWTSecret: "secret"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"APP_ENV", "APP_PORT", "JWT_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err.Error())
		}
	}
}

func TestValidate_LocalFillsDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Calls.RingTimeout != 30*time.Second {
		t.Fatalf("ring timeout default, got %s", c.Calls.RingTimeout)
	}
	if c.Calls.QualityInterval != 2*time.Second {
		t.Fatalf("quality interval default, got %s", c.Calls.QualityInterval)
	}
	if c.Calls.MaxConcurrentPerUser != 1 {
		t.Fatalf("max concurrent default, got %d", c.Calls.MaxConcurrentPerUser)
	}
	if c.Auth.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("access ttl default, got %s", c.Auth.AccessTokenTTL)
	}
	if c.HistoryEnabled() || c.RedisEnabled() || c.MQTTEnabled() {
		t.Fatalf("optional backends should be disabled")
	}
}

func TestValidate_ProductionRequiresBackends(t *testing.T) {
	c := Config{
		App:  AppConfig{Env: "production", Port: 8080},
		Auth: AuthConfig{JWTSecret: "secret", JWTIssuer: "smart-care", JWTAudience: "clients"},
	}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"DB_HOST", "REDIS_HOST"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err.Error())
		}
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := Config{
		App:   AppConfig{Env: "production", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "smartcare"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret", JWTIssuer: "smart-care", JWTAudience: "clients"},
	}
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "DB_SSLMODE") {
		t.Fatalf("expected DB_SSLMODE error, got %v", err)
	}
}

func TestValidate_ProductionRejectsDevTokens(t *testing.T) {
	c := Config{
		App:   AppConfig{Env: "production", Port: 8080, DevTokens: true},
		DB:    DBConfig{Host: "db", User: "postgres", Name: "smartcare", SSLMode: "require"},
		Redis: RedisConfig{Host: "redis"},
		Auth:  AuthConfig{JWTSecret: "secret", JWTIssuer: "smart-care", JWTAudience: "clients"},
	}
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "APP_DEV_TOKENS") {
		t.Fatalf("expected APP_DEV_TOKENS error, got %v", err)
	}
}

func TestValidate_LocalDefaultsSSLModeAndPorts(t *testing.T) {
	c := validLocal()
	c.DB = DBConfig{Host: "localhost", User: "postgres", Name: "smartcare"}
	c.Redis = RedisConfig{Host: "localhost"}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" || c.DB.Port != 5432 || c.Redis.Port != 6379 {
		t.Fatalf("unexpected defaults: %+v %+v", c.DB, c.Redis)
	}
	if c.RedisAddr() != "localhost:6379" {
		t.Fatalf("redis addr, got %q", c.RedisAddr())
	}
}

func TestValidate_CallsBounds(t *testing.T) {
	c := validLocal()
	c.Calls.RingTimeout = 10 * time.Millisecond
	c.Calls.QualityInterval = time.Millisecond
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"CALL_RING_TIMEOUT", "CALL_QUALITY_INTERVAL"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err.Error())
		}
	}
}

func TestValidate_MQTTDefaults(t *testing.T) {
	c := validLocal()
	c.MQTT.Broker = "tcp://localhost:1883"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.MQTT.ClientID != "smart-care" || c.MQTT.TopicPrefix != "smartcare" {
		t.Fatalf("unexpected mqtt defaults: %+v", c.MQTT)
	}

	c.MQTT.QoS = 3
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "MQTT_QOS") {
		t.Fatalf("expected MQTT_QOS error, got %v", err)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "smartcare.yaml")
	data := `
app:
  env: dev
  port: 9000
auth:
  jwt_secret: from-file
calls:
  ring_timeout: 45s
mqtt:
  broker: tcp://broker:1883
  qos: 1
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv(FileEnv, path)
	t.Setenv("APP_PORT", "9100")
	t.Setenv("CALL_QUALITY_INTERVAL", "500ms")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.App.Env != "dev" || c.App.Port != 9100 {
		t.Fatalf("unexpected app: %+v", c.App)
	}
	if c.Auth.JWTSecret != "from-file" {
		t.Fatalf("secret from file, got %q", c.Auth.JWTSecret)
	}
	if c.Calls.RingTimeout != 45*time.Second || c.Calls.QualityInterval != 500*time.Millisecond {
		t.Fatalf("unexpected calls: %+v", c.Calls)
	}
	if !c.MQTTEnabled() || c.MQTT.QoS != 1 {
		t.Fatalf("unexpected mqtt: %+v", c.MQTT)
	}
}

func TestLoad_RejectsMalformedEnv(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("APP_ENV", "local")
	t.Setenv("APP_PORT", "eighty")
	t.Setenv("JWT_SECRET", "secret")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "APP_PORT") {
		t.Fatalf("expected APP_PORT error, got %v", err)
	}
}
