package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.ServerAddr != ":8080" {
		t.Errorf("expected default addr :8080, got %q", cfg.ServerAddr)
	}
	if cfg.MaxWSConnections != 10000 {
		t.Errorf("expected default max ws connections 10000, got %d", cfg.MaxWSConnections)
	}
	if cfg.DBMaxConnections() != 20 {
		t.Errorf("expected default pool size 20, got %d", cfg.DBMaxConnections())
	}
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":9999")
	t.Setenv("READ_TIMEOUT", "30")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/devmatch")
	t.Setenv("DB_MAX_CONNECTIONS", "7")
	t.Setenv("REDIS_URL", "redis://cache:6379")
	t.Setenv("AUTH_SERVICE_URL", "http://auth:8081")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.devmatch.io")

	cfg := Load()
	if cfg.ServerAddr != ":9999" {
		t.Errorf("expected :9999, got %q", cfg.ServerAddr)
	}
	if cfg.ReadTimeout != 30*time.Second {
		t.Errorf("expected 30s read timeout, got %v", cfg.ReadTimeout)
	}
	if cfg.DatabaseURL() != "postgres://u:p@db:5432/devmatch" {
		t.Errorf("unexpected database url %q", cfg.DatabaseURL())
	}
	if cfg.DBMaxConnections() != 7 {
		t.Errorf("expected pool size 7, got %d", cfg.DBMaxConnections())
	}
	if cfg.Redis.URL != "redis://cache:6379" {
		t.Errorf("unexpected redis url %q", cfg.Redis.URL)
	}
	if cfg.AuthServiceURL != "http://auth:8081" {
		t.Errorf("unexpected auth url %q", cfg.AuthServiceURL)
	}
	if cfg.CORSAllowedOrigins != "https://app.devmatch.io" {
		t.Errorf("unexpected cors origins %q", cfg.CORSAllowedOrigins)
	}
}

func TestEnvIntIgnoresGarbage(t *testing.T) {
	t.Setenv("DB_MAX_CONNECTIONS", "not-a-number")
	if got := envInt("DB_MAX_CONNECTIONS", 20); got != 20 {
		t.Errorf("expected fallback 20, got %d", got)
	}
}
