// Package config loads flocksync's YAML configuration.
//
// Files are parsed with yaml.v3 and validated against an embedded CUE
// schema before being decoded, so unknown keys, malformed durations and
// invalid log levels are rejected with the schema's error. Absent fields
// keep their defaults.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/flocksync/internal/record"
)

//go:embed schema.cue
var schemaCUE string

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the validated configuration.
type Config struct {
	Collection      string            `yaml:"collection"`
	LocalDSN        string            `yaml:"local_dsn"`
	RemoteDSN       string            `yaml:"remote_dsn"`
	SessionFile     string            `yaml:"session_file"`
	RefreshInterval Duration          `yaml:"refresh_interval"`
	Windows         Windows           `yaml:"windows"`
	Aliases         map[string]string `yaml:"aliases"`
	LogLevel        string            `yaml:"log_level"`
	MetricsAddr     string            `yaml:"metrics_addr"`

	// Defaults replaces the bundled default records when non-empty.
	Defaults []map[string]any `yaml:"defaults"`
}

// Windows configures the deletion caches.
type Windows struct {
	TombstoneFilter Duration `yaml:"tombstone_filter"`
	TombstonePurge  Duration `yaml:"tombstone_purge"`
	Suppression     Duration `yaml:"suppression"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Collection:      "feeds",
		LocalDSN:        "sqlite://flocksync.db",
		SessionFile:     "session.yaml",
		RefreshInterval: Duration(30 * time.Second),
		Windows: Windows{
			TombstoneFilter: Duration(2 * time.Second),
			TombstonePurge:  Duration(10 * time.Second),
			Suppression:     Duration(30 * time.Second),
		},
		LogLevel: "info",
	}
}

// Load reads and validates the file at path.
// An empty path returns Default().
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates data against the schema and decodes it over Default().
func Parse(data []byte) (Config, error) {
	if err := validate(data, "#Config"); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return cfg, nil
}

// DefaultRecords returns the configured default records, or the bundled
// ones when the config has none.
func (c Config) DefaultRecords() ([]record.Record, error) {
	if len(c.Defaults) == 0 {
		return BundledDefaults()
	}
	return toRecords(c.Defaults)
}

// Normalizer builds the category normalizer with the configured aliases.
func (c Config) Normalizer() *record.Normalizer {
	return record.NewNormalizer(c.Aliases)
}

// BundledDefaults returns the default records shipped with the binary.
func BundledDefaults() ([]record.Record, error) {
	if err := validate(defaultsYAML, "#Defaults"); err != nil {
		return nil, fmt.Errorf("bundled defaults: %w", err)
	}
	var doc struct {
		Records []map[string]any `yaml:"records"`
	}
	if err := yaml.Unmarshal(defaultsYAML, &doc); err != nil {
		return nil, fmt.Errorf("bundled defaults: %w", err)
	}
	return toRecords(doc.Records)
}

func toRecords(raw []map[string]any) ([]record.Record, error) {
	recs := make([]record.Record, 0, len(raw))
	for i, m := range raw {
		rec, err := record.FromMap(m)
		if err != nil {
			return nil, fmt.Errorf("%w: defaults[%d]: %v", ErrInvalid, i, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// validate checks a YAML document against the named schema definition.
func validate(data []byte, definition string) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema has no %s", definition)
	}

	value := def.Unify(ctx.Encode(raw))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}
