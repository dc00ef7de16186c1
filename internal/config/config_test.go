package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/goccy/go-yaml"
)

func TestSampleConfigRoundtrip(t *testing.T) {
	original := SampleConfig()

	// Marshal the configuration to YAML.
	data, err := yaml.Marshal(original)
	if err != nil {
		t.Fatalf("Failed to marshal SampleConfig: %v", err)
	}

	envMap := map[string]string{}

	roundTrip, err := parseConfig(data, envMap)
	if err != nil {
		t.Fatalf("Failed to unmarshal YAML: %v", err)
	}

	if !reflect.DeepEqual(original, *roundTrip) {
		t.Errorf("Roundtrip mismatch:\nExpected: %#v\nGot: %#v", original, roundTrip)
	}
}

func TestParseConfigExpandsEnv(t *testing.T) {
	raw := []byte(`edge_config:
  managementUri: "{{ .MGMT_HOST }}"
  authUri: https://%s-%s.example.com/edgemicro-auth
`)
	cfg, err := parseConfig(raw, map[string]string{"MGMT_HOST": "https://api.example.com"})
	if err != nil {
		t.Fatalf("parseConfig failed: %v", err)
	}
	if cfg.EdgeConfig.ManagementURI != "https://api.example.com" {
		t.Errorf("expected templated management URI, got %q", cfg.EdgeConfig.ManagementURI)
	}
	if cfg.EdgeConfig.AuthURI != "https://%s-%s.example.com/edgemicro-auth" {
		t.Errorf("expected placeholders to be kept, got %q", cfg.EdgeConfig.AuthURI)
	}
}

func TestParseConfigBadTemplate(t *testing.T) {
	if _, err := parseConfig([]byte("edge_config: {{ .broken"), nil); err == nil {
		t.Error("expected an error for a malformed template")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		missing []string
	}{
		{name: "complete", cfg: SampleConfig()},
		{
			name:    "no management uri",
			cfg:     Config{EdgeConfig: EdgeConfig{AuthURI: "https://auth.example.com"}},
			missing: []string{"edge_config.managementUri"},
		},
		{
			name:    "empty",
			cfg:     Config{},
			missing: []string{"edge_config.managementUri", "edge_config.authUri"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if len(tt.missing) == 0 {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected an error")
			}
			for _, key := range tt.missing {
				if !strings.Contains(err.Error(), key) {
					t.Errorf("expected %q to mention %s", err.Error(), key)
				}
			}
		})
	}
}

func TestReadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	data, err := yaml.Marshal(SampleConfig())
	if err != nil {
		t.Fatalf("failed to marshal sample: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := ReadConfig(path)
	if err != nil {
		t.Fatalf("ReadConfig failed: %v", err)
	}
	if cfg.Auth.Source != "auth/app" {
		t.Errorf("unexpected source %q", cfg.Auth.Source)
	}

	if _, err := ReadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
