package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"
	yaml "go.yaml.in/yaml/v3"

	"dmvwatch/internal/envutil"
)

// Load reads, strictly decodes, normalizes and validates a config document.
// Both YAML and JSON files are accepted.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	jb, _, err := coerceToJSONBytes(path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	seen := map[string]bool{}
	for i, o := range c.Offices {
		name := strings.TrimSpace(o.Name)
		if name == "" {
			return fmt.Errorf("offices[%d]: name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("offices[%d]: duplicate office %q", i, name)
		}
		seen[name] = true
	}

	if s := c.Settings.CheckSchedule; s != "" {
		if _, err := cron.ParseStandard(s); err != nil {
			return fmt.Errorf("settings.check_schedule: %w", err)
		}
	}

	if _, err := ParseDurationField("dispatch.retry_base", c.Dispatch.RetryBase); err != nil {
		return err
	}
	if _, err := ParseDurationField("dispatch.retry_max_delay", c.Dispatch.RetryMaxDelay); err != nil {
		return err
	}
	return nil
}

// ApplyEnvOverrides toggles individual channel enabled flags from the
// DMVWATCH_*_ENABLED variables. Unset variables leave the document as-is.
func (c *Config) ApplyEnvOverrides() {
	if v, ok := envutil.BoolIfSet(EnvDiscordEnabled); ok {
		c.Notifiers.Discord.Enabled = &v
	}
	if v, ok := envutil.BoolIfSet(EnvTelegramEnabled); ok {
		c.Notifiers.Telegram.Enabled = v
	}
	if v, ok := envutil.BoolIfSet(EnvSMSEnabled); ok {
		c.Notifiers.SMS.Enabled = v
	}
	if v, ok := envutil.BoolIfSet(EnvEmailEnabled); ok {
		c.Notifiers.Email.Enabled = v
	}
}

// coerceToJSONBytes converts YAML config to JSON bytes so the strict JSON
// decoder (DisallowUnknownFields) covers both formats.
//
// Returns (jsonBytes, format, err) where format is "json" or "yaml".
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, "json", nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, "yaml", fmt.Errorf("yaml unmarshal: %w", err)
	}

	v = normalizeYAML(v)

	j, err := json.Marshal(v)
	if err != nil {
		return nil, "yaml", fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, "yaml", nil
}

// normalizeYAML ensures all map keys are strings so the result can be
// JSON-marshaled.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeYAML(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}
