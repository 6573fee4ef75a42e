package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultsAreValid(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("LEADWIRE_TEST_TOKEN", "tok-123")
	os.Unsetenv("LEADWIRE_TEST_MISSING")

	cases := []struct {
		in   string
		want string
	}{
		{"${LEADWIRE_TEST_TOKEN}", "tok-123"},
		{"prefix-${LEADWIRE_TEST_TOKEN}-suffix", "prefix-tok-123-suffix"},
		{"${LEADWIRE_TEST_MISSING:-fallback}", "fallback"},
		{"${LEADWIRE_TEST_MISSING}", "${LEADWIRE_TEST_MISSING}"}, // unset, no default: kept
		{"no vars here", "no vars here"},
	}
	for _, tc := range cases {
		if got := ExpandEnvVars(tc.in); got != tc.want {
			t.Errorf("ExpandEnvVars(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLoadExpandsEnvAndValidates(t *testing.T) {
	t.Setenv("LEADWIRE_TEST_SID", "AC123")
	t.Setenv("LEADWIRE_TEST_SECRET", "hunter2")

	raw := `{
		"general": {"dbPath": "/tmp/leadwire-test.db"},
		"providers": {
			"order": ["twilio"],
			"twilio": {
				"enabled": true,
				"accountSid": "${LEADWIRE_TEST_SID}",
				"authToken": "${LEADWIRE_TEST_TOKEN:-default-token}",
				"from": "+14155550100"
			}
		},
		"webhook": {"secrets": {"twilio": "${LEADWIRE_TEST_SECRET}"}}
	}`
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.Twilio.AccountSID != "AC123" {
		t.Errorf("accountSid = %q", cfg.Providers.Twilio.AccountSID)
	}
	if cfg.Providers.Twilio.AuthToken != "default-token" {
		t.Errorf("authToken = %q", cfg.Providers.Twilio.AuthToken)
	}
	if cfg.Webhook.Secrets["twilio"] != "hunter2" {
		t.Errorf("webhook secret = %q", cfg.Webhook.Secrets["twilio"])
	}
	// Defaults fill whatever the file leaves out.
	if cfg.Queue.Concurrency != 5 || cfg.Queue.MaxRetries != 3 {
		t.Errorf("queue defaults = %+v", cfg.Queue)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	raw := `{
		"general": {"dbPath": "/tmp/leadwire-test.db"},
		"queue": {"concurrency": 0},
		"providers": {"order": ["smokesignal"]}
	}`
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation failure")
	}
	for _, want := range []string{"queue.concurrency", "unknown carrier"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestValidateRequiresSecretsForOrderedProviders(t *testing.T) {
	cfg := Defaults()
	cfg.Webhook.Secrets = map[string]string{}
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "webhook.secrets") {
		t.Fatalf("expected missing secret error, got %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Defaults()
	cfg.General.DBPath = "/tmp/leadwire-roundtrip.db"
	cfg.API.Port = 9999

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.API.Port != 9999 || loaded.General.DBPath != "/tmp/leadwire-roundtrip.db" {
		t.Fatalf("round trip lost values: %+v", loaded)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/x.db"); got != filepath.Join(home, "x.db") {
		t.Errorf("ExpandPath = %q", got)
	}
	if got := ExpandPath("/abs/x.db"); got != "/abs/x.db" {
		t.Errorf("absolute path mangled: %q", got)
	}
}
