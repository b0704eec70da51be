package main

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/utilitywarehouse/proposal-mirror/mirror"
	"github.com/utilitywarehouse/proposal-mirror/proposal"
)

const (
	defaultHTTPBindAddress = ":9001"
)

var (
	configSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "proposal_mirror_config_last_load_successful",
		Help: "Whether the last configuration load attempt was successful.",
	})
	configSuccessTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "proposal_mirror_config_last_load_success_timestamp_seconds",
		Help: "Timestamp of the last successful configuration load.",
	})
)

// Config is the config file of the app
type Config struct {
	Mirror    MirrorConfig    `yaml:"mirror"`
	Proposals proposal.Config `yaml:"proposals"`
	Server    ServerConfig    `yaml:"server"`
}

// MirrorConfig is the mirrored repository config with refresh schedule
type MirrorConfig struct {
	mirror.Config `yaml:",inline"`

	// RefreshInterval is the interval between periodic refreshes,
	// 0 disables periodic refresh
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// ServerConfig is the config of the ops http server
type ServerConfig struct {
	// address the http server listens on for metrics, health and webhook.
	// defaults to ":9001" with http transport, with stdio transport the
	// server is only started if set so many instances can run side by side
	HTTPBindAddress string `yaml:"http_bind_address"`

	// secret used to validate github webhook requests, webhook endpoint
	// is not registered if empty
	GithubWebhookSecret string `yaml:"github_webhook_secret"`
}

// loadConfig reads config from the file at path. missing file is only
// allowed if path was not explicitly set.
func loadConfig(path string, required bool, transport string) (*Config, error) {
	conf, err := parseConfigFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && !required:
		logger.Info("config file not found, using defaults", "path", path)
		conf = &Config{}
	case err != nil:
		configSuccess.Set(0)
		return nil, err
	}

	applyDefaults(conf, transport)

	if err := conf.Validate(); err != nil {
		configSuccess.Set(0)
		return nil, err
	}

	configSuccess.Set(1)
	configSuccessTime.SetToCurrentTime()
	return conf, nil
}

func applyDefaults(conf *Config, transport string) {
	conf.Mirror.ApplyDefaults()
	conf.Proposals.ApplyDefaults()

	if conf.Server.HTTPBindAddress == "" && transport == transportHTTP {
		conf.Server.HTTPBindAddress = defaultHTTPBindAddress
	}
}

// Validate verifies config, applyDefaults should be called first
func (c *Config) Validate() error {
	var errs []error

	if err := c.Mirror.Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Mirror.RefreshInterval < 0 {
		errs = append(errs, fmt.Errorf("refresh_interval cannot be negative"))
	}

	if strings.Contains(c.Proposals.Prefix, "/") {
		errs = append(errs, fmt.Errorf("proposals prefix '%s' cannot contain '/'", c.Proposals.Prefix))
	}

	return errors.Join(errs...)
}

func parseConfigFile(path string) (*Config, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	err = validateConfig(yamlFile)
	if err != nil {
		return nil, err
	}

	conf := &Config{}
	err = yaml.Unmarshal(yamlFile, conf)
	if err != nil {
		return nil, err
	}

	return conf, nil
}

func validateConfig(yamlData []byte) error {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(yamlData, &raw); err != nil {
		return err
	}

	// check config sections for unexpected keys
	if key := findUnexpectedKey(raw, getAllowedKeys(Config{})); key != "" {
		return fmt.Errorf("unexpected key: .%v", key)
	}

	sections := []struct {
		name   string
		config interface{}
	}{
		{"mirror", MirrorConfig{}},
		{"proposals", proposal.Config{}},
		{"server", ServerConfig{}},
	}
	for _, s := range sections {
		section, ok := raw[s.name]
		if !ok || section == nil {
			continue
		}
		sectionMap, ok := section.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%s section is not valid", s.name)
		}
		if key := findUnexpectedKey(sectionMap, getAllowedKeys(s.config)); key != "" {
			return fmt.Errorf("unexpected key: .%s.%v", s.name, key)
		}
	}

	// check "auth" section in "mirror"
	if mirrorMap, ok := raw["mirror"].(map[string]interface{}); ok {
		if authMap, ok := mirrorMap["auth"].(map[string]interface{}); ok {
			if key := findUnexpectedKey(authMap, getAllowedKeys(mirror.Auth{})); key != "" {
				return fmt.Errorf("unexpected key: .mirror.auth.%v", key)
			}
		}
	}

	return nil
}

// getAllowedKeys retrieves a list of allowed keys from the specified struct,
// keys of inlined structs are included
func getAllowedKeys(config interface{}) []string {
	var allowedKeys []string
	val := reflect.ValueOf(config)
	typ := reflect.TypeOf(config)

	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		name, opts, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		if opts == "inline" {
			allowedKeys = append(allowedKeys, getAllowedKeys(val.Field(i).Interface())...)
			continue
		}
		if name != "" && name != "-" {
			allowedKeys = append(allowedKeys, name)
		}
	}
	return allowedKeys
}

func findUnexpectedKey(raw interface{}, allowedKeys []string) string {
	for key := range raw.(map[string]interface{}) {
		if !slices.Contains(allowedKeys, key) {
			return key
		}
	}

	return ""
}
