package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"clinicd/internal/common/fsutil"
)

// Load reads a configuration file based on its extension on top of Default().
// Supports: .yaml/.yml, .json, .toml
// Relative artifact paths are resolved against the file's directory.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return cfg, fmt.Errorf("abs path: %w", err)
	}
	if err := cfg.ResolvePaths(abs); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ResolvePaths expands '~' and anchors relative artifact paths at baseDir.
func (c *Config) ResolvePaths(baseDir string) error {
	for _, p := range []*string{
		&c.ModelsDir,
		&c.Classifier.Path,
		&c.Summarizer.Path,
		&c.Generator.ModelPath,
		&c.Generator.QuantizedPath,
		&c.Generator.TokenizerPath,
		&c.Generator.AdapterPath,
		&c.ORT.LibraryPath,
	} {
		v, err := fsutil.Resolve(*p, baseDir)
		if err != nil {
			return err
		}
		*p = v
	}
	return nil
}

// ApplyEnv overrides secrets and model switches from the environment.
// lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup("HF_TOKEN"); ok && v != "" {
		c.Generator.AccessToken = v
	}
	if v, ok := lookup("JWT_SECRET_KEY"); ok && v != "" {
		c.Auth.Secret = v
	}
	if v, ok := lookup("LLAMA_BASE_MODEL_PATH"); ok && v != "" {
		c.Generator.ModelPath = v
	}
	if v, ok := lookup("LLAMA_USE_ADAPTER"); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			c.Generator.UseAdapter = b
		}
	}
	if v, ok := lookup("ONNXRUNTIME_LIB"); ok && v != "" {
		c.ORT.LibraryPath = v
	}
}
