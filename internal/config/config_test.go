package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("expected addr :8080, got %s", cfg.HTTP.Addr)
	}
	if cfg.Push.Transport != TransportNone {
		t.Errorf("expected transport none, got %s", cfg.Push.Transport)
	}
	if cfg.API.RequestTimeout() != 10*time.Second {
		t.Errorf("expected 10s timeout, got %v", cfg.API.RequestTimeout())
	}
	if !cfg.Session.RefreshAfterMutation {
		t.Error("expected refresh after mutation by default")
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
http:
  addr: ":9090"
api:
  base_url: "http://orders.internal/api"
  timeout: "3s"
push:
  transport: kafka
  kafka:
    brokers: "kafka-1:9092"
    topic: "orders"
session:
  refresh_after_mutation: false
`)
	t.Setenv("KAFKA_BROKERS", "kafka-2:9092,kafka-3:9092")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("expected addr from file, got %s", cfg.HTTP.Addr)
	}
	if cfg.API.RequestTimeout() != 3*time.Second {
		t.Errorf("expected 3s timeout, got %v", cfg.API.RequestTimeout())
	}
	if cfg.Push.Kafka.Brokers != "kafka-2:9092,kafka-3:9092" {
		t.Errorf("expected env to override brokers, got %s", cfg.Push.Kafka.Brokers)
	}
	if cfg.Push.Kafka.LinkCheckInterval() != 5*time.Second {
		t.Errorf("expected default health interval to survive, got %s", cfg.Push.Kafka.HealthInterval)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Log.Level)
	}
	if cfg.Session.RefreshAfterMutation {
		t.Error("expected refresh_after_mutation=false from file")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown transport", map[string]string{"PUSH_TRANSPORT": "carrier-pigeon"}},
		{"kafka without brokers", map[string]string{"PUSH_TRANSPORT": "kafka"}},
		{"amqp without url", map[string]string{"PUSH_TRANSPORT": "amqp"}},
		{"bad timeout", map[string]string{"ORDER_API_TIMEOUT": "soon"}},
		{"bad bool", map[string]string{"REFRESH_AFTER_MUTATION": "maybe"}},
		{"bad kafka health interval", map[string]string{"PUSH_TRANSPORT": "kafka", "KAFKA_BROKERS": "k:9092", "KAFKA_HEALTH_INTERVAL": "0s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
