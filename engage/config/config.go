// Loads the template catalog and special-interaction rules from a YAML file.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/bluesky-social/banter/engage"
	"github.com/bluesky-social/banter/engage/ratelimit"
	"github.com/bluesky-social/banter/engage/templates"

	"gopkg.in/yaml.v3"
)

type File struct {
	Templates           templates.Catalog       `yaml:"templates"`
	SpecialInteractions map[string]SpecialEntry `yaml:"specialInteractions"`
}

type SpecialEntry struct {
	Topics      []string              `yaml:"topics"`
	Templates   []templates.Variation `yaml:"templates"`
	Probability *float64              `yaml:"probability"`

	// Go duration string, eg "12h". Defaults to 24h.
	Cooldown string `yaml:"cooldown"`
}

// Validated startup configuration.
type Config struct {
	Catalog templates.Catalog
	Special []ratelimit.SpecialInteraction

	// entries which failed validation and were dropped
	Dropped []error
}

func LoadFile(path string, logger *slog.Logger) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &engage.ConfigError{Field: "config", Err: err}
	}
	defer f.Close()
	return Load(f, logger)
}

// Parses and validates a configuration file. An invalid catalog is a *engage.ConfigError; an
// invalid special interaction is logged, recorded as a *engage.ValidationError and dropped.
func Load(r io.Reader, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return nil, &engage.ConfigError{Field: "config", Err: err}
	}

	if len(file.Templates) == 0 {
		return nil, &engage.ConfigError{Field: "templates", Err: fmt.Errorf("catalog is empty")}
	}
	if err := file.Templates.Validate(); err != nil {
		return nil, &engage.ConfigError{Field: "templates", Err: err}
	}

	cfg := &Config{Catalog: file.Templates}

	// map iteration order is random; keep rule order stable
	handles := make([]string, 0, len(file.SpecialInteractions))
	for h := range file.SpecialInteractions {
		handles = append(handles, h)
	}
	sort.Strings(handles)

	for _, handle := range handles {
		rule, err := file.SpecialInteractions[handle].toRule(handle)
		if err != nil {
			verr := &engage.ValidationError{Entry: handle, Err: err}
			logger.Warn("dropping special interaction", "handle", handle, "err", err)
			cfg.Dropped = append(cfg.Dropped, verr)
			continue
		}
		cfg.Special = append(cfg.Special, *rule)
	}
	return cfg, nil
}

func (e SpecialEntry) toRule(handle string) (*ratelimit.SpecialInteraction, error) {
	handle = ratelimit.NormalizeHandle(handle)
	if handle == "" {
		return nil, fmt.Errorf("empty handle")
	}
	if e.Probability == nil {
		return nil, fmt.Errorf("missing probability")
	}
	if *e.Probability < 0 || *e.Probability > 1 {
		return nil, fmt.Errorf("probability out of range: %v", *e.Probability)
	}
	if len(e.Templates) == 0 {
		return nil, fmt.Errorf("no templates")
	}
	// validate the templates as if they were their own group
	if err := (templates.Catalog{handle: e.Templates}).Validate(); err != nil {
		return nil, err
	}
	cooldown := ratelimit.DefaultSpecialCooldown
	if e.Cooldown != "" {
		d, err := time.ParseDuration(e.Cooldown)
		if err != nil {
			return nil, fmt.Errorf("bad cooldown: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("cooldown must be positive: %s", d)
		}
		cooldown = d
	}
	return &ratelimit.SpecialInteraction{
		Handle:      handle,
		Topics:      e.Topics,
		Templates:   e.Templates,
		Probability: *e.Probability,
		Cooldown:    cooldown,
	}, nil
}

// Checks that every named group exists in the catalog.
func (c *Config) RequireGroups(groups ...string) error {
	for _, g := range groups {
		if len(c.Catalog[g]) == 0 {
			return &engage.ConfigError{Field: "templates", Err: fmt.Errorf("missing template group %q", g)}
		}
	}
	return nil
}
