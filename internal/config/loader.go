package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// envPattern matches ${VAR} and ${VAR:-default}.
var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// ExpandEnv substitutes environment references in a string. Unset
// variables expand to the default when one is given, otherwise to the
// empty string.
func ExpandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envPattern.FindStringSubmatch(match)
		if value, ok := os.LookupEnv(groups[1]); ok {
			return value
		}
		return groups[2]
	})
}

// SearchPaths returns candidate config locations in lookup order:
// ./cobot.yml, ~/.cobot/cobot.yml, then the legacy ./config.yaml.
func SearchPaths() []string {
	paths := []string{"cobot.yml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".cobot", "cobot.yml"))
	}
	return append(paths, "config.yaml")
}

// FindPath locates the config file. When explicit is non-empty it is
// returned as-is. Otherwise the first existing search path wins; if
// none exists, the home location is returned so new files land there.
func FindPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, p := range SearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cobot", "cobot.yml")
	}
	return "cobot.yml"
}

// Load reads, expands, and validates the configuration. An empty path
// triggers the search order. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()

	resolved := FindPath(path)
	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) && path == "" {
			cfg.raw = map[string]any{}
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config %s: %w", resolved, err)
	}

	expanded := []byte(ExpandEnv(string(data)))

	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", resolved, err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(expanded, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", resolved, err)
	}

	cfg.raw = raw
	cfg.path = resolved
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// secretKeys are config keys whose values are masked by default when
// the configuration is displayed.
var secretKeys = map[string]struct{}{
	"api_key":     {},
	"secret":      {},
	"password":    {},
	"token":       {},
	"private_key": {},
	"bot_token":   {},
	"nsec":        {},
}

// MaskSecrets returns a copy of the map with secret-like string values
// reduced to a ***-prefixed suffix.
func MaskSecrets(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		switch value := v.(type) {
		case map[string]any:
			out[k] = MaskSecrets(value)
		case string:
			if _, secret := secretKeys[k]; secret && len(value) > 4 {
				out[k] = "***" + value[len(value)-4:]
			} else {
				out[k] = value
			}
		default:
			out[k] = v
		}
	}
	return out
}
