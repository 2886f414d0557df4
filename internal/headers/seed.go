package headers

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	"github.com/youtube/cobalt-sub008/internal/origin"
)

// Seed file formats.
const (
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

// SeedRule is one header rule in a seed file.
//
//	headers:
//	  - name: X-Client
//	    value: embedded
//	    origins: ["https://*.example.com"]
//	    mode: set
type SeedRule struct {
	Name    string   `yaml:"name" toml:"name"`
	Value   string   `yaml:"value" toml:"value"`
	Origins []string `yaml:"origins" toml:"origins"`
	// Mode is "add" (default) or "set".
	Mode string `yaml:"mode,omitempty" toml:"mode,omitempty"`
}

type seedFile struct {
	Headers []SeedRule `yaml:"headers" toml:"headers"`
}

// FormatFromPath picks the seed format from a file extension.
func FormatFromPath(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("unsupported seed file extension %q", filepath.Ext(path))
	}
}

// LoadSeedFile reads header rules from a YAML or TOML file.
func LoadSeedFile(path string) ([]SeedRule, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data, format)
}

// ParseSeed decodes header rules.
func ParseSeed(data []byte, format string) ([]SeedRule, error) {
	var f seedFile
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("invalid YAML seed: %w", err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("invalid TOML seed: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported seed format %q", format)
	}
	return f.Headers, nil
}

// EncodeSeed serializes rules in the given format.
func EncodeSeed(rules []SeedRule, format string) ([]byte, error) {
	f := seedFile{Headers: rules}
	switch format {
	case FormatYAML:
		return yaml.Marshal(f)
	case FormatTOML:
		return toml.Marshal(f)
	default:
		return nil, fmt.Errorf("unsupported seed format %q", format)
	}
}

// ApplySeed applies every rule or none of them.
func (s *Store) ApplySeed(rules []SeedRule) error {
	type prepared struct {
		rule     SeedRule
		patterns []origin.Pattern
		merge    bool
	}

	ready := make([]prepared, 0, len(rules))
	for i, r := range rules {
		var merge bool
		switch strings.ToLower(r.Mode) {
		case "", "add":
			merge = true
		case "set":
		default:
			return fmt.Errorf("seed rule %d (%s): unknown mode %q", i, r.Name, r.Mode)
		}
		parsed, err := validate(r.Name, r.Value, r.Origins)
		if err != nil {
			return fmt.Errorf("seed rule %d (%s): %w", i, r.Name, err)
		}
		ready = append(ready, prepared{rule: r, patterns: parsed, merge: merge})
	}

	s.mutate(func(groups []nameGroup) []nameGroup {
		for _, p := range ready {
			groups = upsert(groups, p.rule.Name, p.rule.Value, p.patterns, p.merge)
		}
		return groups
	})
	return nil
}

// Export returns the store contents as seed rules with mode "set".
func (s *Store) Export() []SeedRule {
	entries := s.Find(nil, nil)
	out := make([]SeedRule, 0, len(entries))
	for _, e := range entries {
		out = append(out, SeedRule{Name: e.Name, Value: e.Value, Origins: e.Rules(), Mode: "set"})
	}
	return out
}
