package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("admin.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress {
		t.Fatalf("unexpected http address %s", cfg.HTTPAddress)
	}
	if cfg.StoreDriver != StoreDriverSQLite {
		t.Fatalf("unexpected store driver %s", cfg.StoreDriver)
	}
	if cfg.AdminPassword != "admin123" {
		t.Fatalf("unexpected admin password default")
	}
	if cfg.AdminTokenTTL != 30*time.Minute {
		t.Fatalf("unexpected token ttl %s", cfg.AdminTokenTTL)
	}
	if cfg.HeartbeatInterval != 5*time.Second || cfg.PresenceTimeout != 15*time.Second {
		t.Fatalf("unexpected presence timings %s/%s", cfg.HeartbeatInterval, cfg.PresenceTimeout)
	}
	if cfg.LatestThreadLimit != 10 {
		t.Fatalf("unexpected latest limit %d", cfg.LatestThreadLimit)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("CORKBOARD_ADMIN_SIGNING_SECRET", "from-env")
	t.Setenv("CORKBOARD_STORE_DRIVER", "Pebble")
	t.Setenv("CORKBOARD_PRESENCE_TIMEOUT", "30s")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.AdminSigningSecret != "from-env" {
		t.Fatalf("expected signing secret from env")
	}
	if cfg.StoreDriver != StoreDriverPebble {
		t.Fatalf("expected normalized pebble driver, got %s", cfg.StoreDriver)
	}
	if cfg.PresenceTimeout != 30*time.Second {
		t.Fatalf("expected presence timeout from env, got %s", cfg.PresenceTimeout)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name          string
		overrides     map[string]interface{}
		expectedError string
	}{
		{
			name:          "missing-secret",
			overrides:     map[string]interface{}{},
			expectedError: "admin.signing_secret",
		},
		{
			name:          "unknown-driver",
			overrides:     map[string]interface{}{"admin.signing_secret": "s", "store.driver": "etcd"},
			expectedError: "store.driver",
		},
		{
			name:          "timeout-not-above-interval",
			overrides:     map[string]interface{}{"admin.signing_secret": "s", "presence.timeout": "5s"},
			expectedError: "presence.timeout",
		},
		{
			name:          "empty-database-path",
			overrides:     map[string]interface{}{"admin.signing_secret": "s", "database.path": " "},
			expectedError: "database.path",
		},
		{
			name:          "non-positive-ttl",
			overrides:     map[string]interface{}{"admin.signing_secret": "s", "admin.token_ttl_minutes": 0},
			expectedError: "admin.token_ttl_minutes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configViper := NewViper()
			for key, value := range tt.overrides {
				configViper.Set(key, value)
			}
			_, err := Load(configViper)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.expectedError) {
				t.Fatalf("expected error mentioning %s, got %v", tt.expectedError, err)
			}
		})
	}
}

func TestLoadPresenceSkipsAdminSettings(t *testing.T) {
	configViper := NewViper()
	configViper.Set("admin.password", "")
	configViper.Set("admin.token_ttl_minutes", 0)
	configViper.Set("store.driver", StoreDriverMemory)

	cfg, err := LoadPresence(configViper)
	if err != nil {
		t.Fatalf("unexpected load error without admin settings: %v", err)
	}
	if cfg.StoreDriver != StoreDriverMemory {
		t.Fatalf("unexpected store driver %s", cfg.StoreDriver)
	}
	if cfg.HeartbeatInterval != defaultHeartbeatInterval {
		t.Fatalf("unexpected heartbeat interval %s", cfg.HeartbeatInterval)
	}

	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected server load to still require admin settings")
	}
}

func TestLoadPresenceValidatesBoardSettings(t *testing.T) {
	configViper := NewViper()
	configViper.Set("presence.timeout", "5s")

	_, err := LoadPresence(configViper)
	if err == nil || !strings.Contains(err.Error(), "presence.timeout") {
		t.Fatalf("expected presence.timeout error, got %v", err)
	}
}
