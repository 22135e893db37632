// Package config reads the sources catalog: where each source release lives
// and how the pipelines should run.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/OFFIS-RIT/ontograph/internal/util"

	"github.com/go-playground/validator"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no catalog is given explicitly.
const DefaultPath = "ontograph.yaml"

// KnownSources lists the sources a catalog may configure.
var KnownSources = []string{"hgnc", "mesh", "efo", "pubchem", "obo"}

// Config is the sources catalog.
type Config struct {
	OutputDir              string            `yaml:"output_dir" json:"output_dir" validate:"required"`
	CompressionThresholdMB float64           `yaml:"compression_threshold_mb" json:"compression_threshold_mb"`
	Parallelism            int               `yaml:"parallelism" json:"parallelism" validate:"gte=0"`
	MaxChainHops           int               `yaml:"max_chain_hops" json:"max_chain_hops" validate:"gte=0"`
	StrictDuplicates       bool              `yaml:"strict_duplicates" json:"strict_duplicates"`
	Sources                map[string]Source `yaml:"sources" json:"sources" validate:"dive"`
}

// Source configures one pipeline. Input is a local path, an s3://bucket/key
// reference or an http(s) URL; its meaning depends on the source. Options
// carry source specific settings such as the MeSH year or the EFO variant.
type Source struct {
	Input   string            `yaml:"input" json:"input"`
	Options map[string]string `yaml:"options" json:"options"`
}

// Option returns the option key, or def when it is unset.
func (s Source) Option(key, def string) string {
	if v, ok := s.Options[key]; ok && v != "" {
		return v
	}
	return def
}

// IntOption parses the option key as an integer.
func (s Source) IntOption(key string, def int) (int, error) {
	raw := s.Option(key, "")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("option %s: %w", key, err)
	}
	return n, nil
}

// Default returns the catalog used when no file is present.
func Default() *Config {
	return &Config{
		OutputDir:              "output",
		CompressionThresholdMB: 10,
		Parallelism:            4,
		Sources:                map[string]Source{},
	}
}

// Load reads the catalog at path, applies env overrides and validates it.
// Files ending in .json are decoded as JSON, everything else as YAML. A
// missing file at DefaultPath falls back to Default.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, data, cfg); err != nil {
			return nil, err
		}
	case os.IsNotExist(err) && path == DefaultPath:
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to decode config %s: %w", path, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides catalog values with ONTOGRAPH_* environment variables.
func (c *Config) ApplyEnv() {
	c.OutputDir = util.GetEnvString("ONTOGRAPH_OUTPUT_DIR", c.OutputDir)
	if util.GetEnv("ONTOGRAPH_COMPRESSION_THRESHOLD_MB") != "" {
		c.CompressionThresholdMB = util.GetEnvNumeric("ONTOGRAPH_COMPRESSION_THRESHOLD_MB", int(c.CompressionThresholdMB))
	}
	c.Parallelism = util.GetEnvInt("ONTOGRAPH_PARALLELISM", c.Parallelism)
	c.MaxChainHops = util.GetEnvInt("ONTOGRAPH_MAX_CHAIN_HOPS", c.MaxChainHops)
	c.StrictDuplicates = util.GetEnvBool("ONTOGRAPH_STRICT_DUPLICATES", c.StrictDuplicates)
}

// Validate checks field constraints and rejects unknown sources.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for name := range c.Sources {
		if !slices.Contains(KnownSources, name) {
			return fmt.Errorf("invalid config: unknown source %q", name)
		}
	}
	return nil
}

// Source returns the configuration of name. Unconfigured known sources get an
// empty entry so that their defaults apply.
func (c *Config) Source(name string) (Source, error) {
	if !slices.Contains(KnownSources, name) {
		return Source{}, fmt.Errorf("unknown source %q", name)
	}
	return c.Sources[name], nil
}

// Configured returns the names of the configured sources in catalog order.
func (c *Config) Configured() []string {
	var out []string
	for _, name := range KnownSources {
		if _, ok := c.Sources[name]; ok {
			out = append(out, name)
		}
	}
	return out
}
