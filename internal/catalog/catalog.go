// Package catalog loads the activities the registry is seeded with at startup.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"example.com/signup/internal/domain"
)

//go:embed activities.yaml
var defaultCatalog []byte

type file struct {
	Activities []entry `yaml:"activities" toml:"activities"`
}

type entry struct {
	Name            string   `yaml:"name" toml:"name"`
	Description     string   `yaml:"description" toml:"description"`
	Schedule        string   `yaml:"schedule" toml:"schedule"`
	MaxParticipants int      `yaml:"max_participants" toml:"max_participants"`
	Participants    []string `yaml:"participants" toml:"participants"`
}

// Default returns the built-in catalog.
func Default() ([]domain.Activity, error) {
	return Parse(defaultCatalog)
}

// Load reads the catalog at path, or the built-in one when path is empty.
// Files ending in .toml are parsed as TOML, anything else as YAML.
func Load(path string) ([]domain.Activity, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return ParseTOML(raw)
	}
	return Parse(raw)
}

// Parse decodes and validates a YAML catalog.
func Parse(raw []byte) ([]domain.Activity, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var f file
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return f.activities()
}

// ParseTOML decodes and validates a TOML catalog made of [[activities]] tables.
func ParseTOML(raw []byte) ([]domain.Activity, error) {
	dec := toml.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var f file
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return f.activities()
}

func (f file) activities() ([]domain.Activity, error) {
	if len(f.Activities) == 0 {
		return nil, errors.New("catalog has no activities")
	}

	seen := make(map[string]struct{}, len(f.Activities))
	out := make([]domain.Activity, 0, len(f.Activities))
	for i, e := range f.Activities {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, fmt.Errorf("activity %d: name is required", i)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("activity %q: duplicate name", name)
		}
		seen[name] = struct{}{}
		if e.MaxParticipants < 0 {
			return nil, fmt.Errorf("activity %q: max_participants must be >= 0", name)
		}

		members := make(map[string]struct{}, len(e.Participants))
		participants := make([]string, 0, len(e.Participants))
		for _, p := range e.Participants {
			p = strings.TrimSpace(p)
			if p == "" {
				return nil, fmt.Errorf("activity %q: blank participant", name)
			}
			if _, dup := members[p]; dup {
				return nil, fmt.Errorf("activity %q: duplicate participant %q", name, p)
			}
			members[p] = struct{}{}
			participants = append(participants, p)
		}

		out = append(out, domain.Activity{
			Name:            name,
			Description:     e.Description,
			Schedule:        e.Schedule,
			MaxParticipants: e.MaxParticipants,
			Participants:    participants,
		})
	}
	return out, nil
}
