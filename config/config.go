package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/modlink/core/errors"
)

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// candidateNames are the config file names searched for, in priority order.
var candidateNames = []string{"modlink.yml", "modlink.yaml", "modlink.toml"}

// Load reads and parses a modlink configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigNotFound(path)
		}
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to read config file").
			WithDetail("path", path)
	}

	return LoadFromBytes(data, strings.ToLower(filepath.Ext(path)))
}

// LoadFromBytes parses config data. The format is chosen by extension:
// ".toml" is parsed as TOML, anything else as YAML.
func LoadFromBytes(data []byte, ext string) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := &Config{}
	raw := map[string]interface{}{}

	switch ext {
	case ".toml":
		if err := toml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse TOML config")
		}
		if err := toml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse TOML config")
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse YAML config")
		}
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse YAML config")
		}
	}

	cfg.Extensions = raw
	cfg.SetDefaults()
	return cfg, nil
}

// LoadDefault finds and loads the configuration starting from the current
// working directory. A missing config file is not an error: the daemon runs
// usefully on defaults, with the cwd as the only project root.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to get current directory")
	}
	return LoadFrom(cwd)
}

// LoadFrom loads configuration by searching upward from startDir.
func LoadFrom(startDir string) (*Config, error) {
	path, err := FindConfigFile(startDir)
	if err != nil {
		cfg := &Config{Projects: []string{startDir}}
		cfg.SetDefaults()
		return cfg, nil
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if len(cfg.Projects) == 0 {
		cfg.Projects = []string{filepath.Dir(path)}
	}
	// Project roots are relative to the config file's directory.
	base := filepath.Dir(path)
	for i, root := range cfg.Projects {
		if !filepath.IsAbs(root) {
			cfg.Projects[i] = filepath.Join(base, root)
		}
	}
	return cfg, nil
}

// FindConfigFile searches startDir and its ancestors for a config file.
func FindConfigFile(startDir string) (string, error) {
	dir := startDir
	for {
		for _, name := range candidateNames {
			candidate := filepath.Join(dir, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.ConfigNotFound(filepath.Join(startDir, candidateNames[0]))
		}
		dir = parent
	}
}

// expandEnvVars replaces ${VAR} references with environment values.
// Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarRegex.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}
