package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func validConfig() Config {
	return Config{
		Server: Server{
			Listen: Listen{
				Address: "127.0.0.1",
				Port:    8080,
			},
			WorkerPool: WorkerPoolConfig{MaxWorkers: 4},
		},
		Backend: Backend{URL: "https://example.firebaseio.com"},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(cfg *Config)
		wantErr     bool
		errContains []string
	}{
		{
			name:    "Valid Minimal Config",
			modify:  func(cfg *Config) {},
			wantErr: false,
		},
		{
			name: "Zero Workers",
			modify: func(cfg *Config) {
				cfg.Server.WorkerPool.MaxWorkers = 0
			},
			wantErr:     true,
			errContains: []string{"field 'max_workers' (struct field: 'MaxWorkers') failed on the 'min' validation rule"},
		},
		{
			name: "Negative Workers",
			modify: func(cfg *Config) {
				cfg.Server.WorkerPool.MaxWorkers = -1
			},
			wantErr:     true,
			errContains: []string{"field 'max_workers' (struct field: 'MaxWorkers') failed on the 'min' validation rule"},
		},
		{
			name: "Invalid Port",
			modify: func(cfg *Config) {
				cfg.Server.Listen.Port = 70000
			},
			wantErr:     true,
			errContains: []string{"field 'port' (struct field: 'Port') failed on the 'max' validation rule"},
		},
		{
			name: "Invalid Address",
			modify: func(cfg *Config) {
				cfg.Server.Listen.Address = "not a host"
			},
			wantErr:     true,
			errContains: []string{"field 'address' (struct field: 'Address') failed on the 'ip|hostname' validation rule"},
		},
		{
			name: "Missing Backend URL",
			modify: func(cfg *Config) {
				cfg.Backend.URL = ""
			},
			wantErr:     true,
			errContains: []string{"field 'url' (struct field: 'URL') failed on the 'required' validation rule"},
		},
		{
			name: "Invalid Log Level",
			modify: func(cfg *Config) {
				cfg.Server.Logging.Level = "verbose"
			},
			wantErr:     true,
			errContains: []string{"field 'level' (struct field: 'Level') failed on the 'oneof' validation rule"},
		},
		{
			name: "Secret And Service Account",
			modify: func(cfg *Config) {
				cfg.Backend.Auth.Secret = "s3cr3t"
				cfg.Backend.Auth.ServiceAccountFile = "/etc/moviebridge/sa.json"
			},
			wantErr:     true,
			errContains: []string{"field 'service_account_file' (struct field: 'ServiceAccountFile') failed on the 'excluded_with' validation rule"},
		},
		{
			name: "Client Cert Without Key",
			modify: func(cfg *Config) {
				cfg.Backend.TLS.Cert = "/etc/ssl/client.pem"
			},
			wantErr:     true,
			errContains: []string{"field 'key' (struct field: 'Key') failed on the 'required_with' validation rule"},
		},
		{
			name: "Multiple Errors",
			modify: func(cfg *Config) {
				cfg.Server.Listen.Port = 70000
				cfg.Backend.URL = ""
			},
			wantErr: true,
			errContains: []string{
				"field 'port' (struct field: 'Port') failed on the 'max' validation rule",
				"field 'url' (struct field: 'URL') failed on the 'required' validation rule",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)

			err := cfg.HandleConfig()
			if (err != nil) != tt.wantErr {
				t.Errorf("HandleConfig() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("HandleConfig() error = %v, want ErrInvalidConfig", err)
				}

				for _, msg := range tt.errContains {
					if !strings.Contains(err.Error(), msg) {
						t.Errorf("HandleConfig() error = %v, want error to contain %q", err, msg)
					}
				}
			}
		})
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "moviebridge.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("could not write config: %v", err)
	}

	return path
}

func TestNewConfigFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  listen:
    address: 127.0.0.1
    port: 9000
  worker_pool:
    max_workers: 3
    shutdown_timeout: 2s
backend:
  url: https://example.firebaseio.com
  auth:
    secret: s3cr3t
`)

	t.Setenv("MOVIEBRIDGE_SERVER_LOGGING_LEVEL", "debug")

	cfg, err := NewConfigFile(viper.New(), path)
	if err != nil {
		t.Fatalf("NewConfigFile failed: %v", err)
	}

	if cfg.Server.Listen.String() != "127.0.0.1:9000" {
		t.Errorf("Expected 127.0.0.1:9000, got %s", cfg.Server.Listen.String())
	}

	if cfg.Server.WorkerPool.MaxWorkers != 3 || cfg.Server.WorkerPool.MaxQueue != 30 {
		t.Errorf("Unexpected worker pool %+v", cfg.Server.WorkerPool)
	}

	if cfg.Server.WorkerPool.ShutdownTimeout != 2*time.Second {
		t.Errorf("Expected shutdown timeout 2s, got %v", cfg.Server.WorkerPool.ShutdownTimeout)
	}

	if cfg.Server.Logging.Level != "debug" {
		t.Errorf("Expected log level from environment, got %q", cfg.Server.Logging.Level)
	}

	if cfg.Backend.Auth.Secret != "s3cr3t" {
		t.Errorf("Expected backend secret to be read")
	}
}

func TestNewConfigFileDefaultsWorkers(t *testing.T) {
	path := writeConfigFile(t, "backend:\n  url: https://example.firebaseio.com\n")

	cfg, err := NewConfigFile(viper.New(), path)
	if err != nil {
		t.Fatalf("NewConfigFile failed: %v", err)
	}

	if cfg.Server.WorkerPool.MaxWorkers != defaultMaxWorkers {
		t.Errorf("Expected %d workers, got %d", defaultMaxWorkers, cfg.Server.WorkerPool.MaxWorkers)
	}
}

func TestNewConfigFileExplicitZeroWorkers(t *testing.T) {
	path := writeConfigFile(t, `
server:
  worker_pool:
    max_workers: 0
backend:
  url: https://example.firebaseio.com
`)

	_, err := NewConfigFile(viper.New(), path)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Expected ErrInvalidConfig for zero workers, got %v", err)
	}
}

func TestNewConfigFileFromEnvironment(t *testing.T) {
	path := writeConfigFile(t, "server:\n  listen:\n    port: 9000\n")

	t.Setenv("MOVIEBRIDGE_BACKEND_URL", "https://env.firebaseio.com")
	t.Setenv("MOVIEBRIDGE_SERVER_LISTEN_PORT", "9100")

	cfg, err := NewConfigFile(viper.New(), path)
	if err != nil {
		t.Fatalf("NewConfigFile failed: %v", err)
	}

	if cfg.Backend.URL != "https://env.firebaseio.com" {
		t.Errorf("Expected backend URL from environment, got %q", cfg.Backend.URL)
	}

	if cfg.Server.Listen.Port != 9100 {
		t.Errorf("Expected the environment to override the file, got port %d", cfg.Server.Listen.Port)
	}
}

func TestNewConfigFileMissing(t *testing.T) {
	_, err := NewConfigFile(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("Expected an error for a missing explicit config file")
	}
}
