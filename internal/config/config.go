package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/goccy/go-yaml"
)

const ConfigFileName = "edgeauth.yaml"

type Config struct {
	EdgeConfig EdgeConfig `yaml:"edge_config"`
	Auth       AuthApp    `yaml:"auth"`
}

// EdgeConfig follows the edge_config section of the gateway configuration.
type EdgeConfig struct {
	ManagementURI string `yaml:"managementUri"`
	// AuthURI may hold two %s placeholders, filled with the organization
	// and the environment.
	AuthURI      string `yaml:"authUri"`
	VirtualHosts string `yaml:"virtualhosts,omitempty"`
}

// AuthApp locates the auth app and the callout archive on disk.
type AuthApp struct {
	Source     string `yaml:"source"`
	CalloutJar string `yaml:"callout_jar"`
}

// Validate fails when a setting every deployment needs is missing.
func (c *Config) Validate() error {
	var missing []string
	if c.EdgeConfig.ManagementURI == "" {
		missing = append(missing, "edge_config.managementUri")
	}
	if c.EdgeConfig.AuthURI == "" {
		missing = append(missing, "edge_config.authUri")
	}
	if len(missing) > 0 {
		return errors.New("missing required configuration: " + strings.Join(missing, ", "))
	}
	return nil
}

// ReadConfig reads the config file at path, or ConfigFileName when path is
// empty. Environment variables can be referenced as {{ .NAME }}.
func ReadConfig(path string) (*Config, error) {
	if path == "" {
		path = ConfigFileName
	}
	fileBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Convert env vars to a map
	envMap := envToMap()

	return parseConfig(fileBytes, envMap)
}

func parseConfig(fileBytes []byte, envMap map[string]string) (*Config, error) {
	t, err := template.New("config").Option("missingkey=zero").Parse(string(fileBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	var b bytes.Buffer
	if err := t.Execute(&b, envMap); err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(b.Bytes(), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func envToMap() map[string]string {
	envMap := make(map[string]string)

	for _, v := range os.Environ() {
		splitV := strings.SplitN(v, "=", 2) //nolint:mnd // key and value
		envMap[splitV[0]] = splitV[1]
	}

	return envMap
}

func SampleConfig() Config {
	return Config{
		EdgeConfig: EdgeConfig{
			ManagementURI: "https://api.enterprise.apigee.com",
			AuthURI:       "https://%s-%s.apigee.net/edgemicro-auth",
			VirtualHosts:  "default,secure",
		},
		Auth: AuthApp{
			Source:     "auth/app",
			CalloutJar: "auth/lib/micro-gateway-products-javacallout-1.0.0.jar",
		},
	}
}
