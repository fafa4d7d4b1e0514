// Package taxonomy implements hierarchical category-code matching and the
// activity-to-category crosswalk.
package taxonomy

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileName is the reference file looked up inside REFERENCE_DATA_DIR.
const FileName = "crosswalk.yaml"

//go:embed data/crosswalk.yaml
var defaultCrosswalkYAML []byte

// Crosswalk maps business-activity codes onto category divisions and carries
// the division vocabulary.
type Crosswalk struct {
	divisions  map[string]string
	activities map[string][]string
}

type crosswalkFile struct {
	Divisions  map[string]string   `yaml:"divisions"`
	Activities map[string][]string `yaml:"activities"`
}

// LoadDefault parses the embedded crosswalk.
func LoadDefault() (*Crosswalk, error) {
	return Load(bytes.NewReader(defaultCrosswalkYAML))
}

// LoadDir reads FileName from dir, or the embedded crosswalk when dir is empty.
func LoadDir(dir string) (*Crosswalk, error) {
	if strings.TrimSpace(dir) == "" {
		return LoadDefault()
	}
	path := filepath.Join(dir, FileName)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a crosswalk YAML document.
func Load(r io.Reader) (*Crosswalk, error) {
	var file crosswalkFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode crosswalk: %w", err)
	}

	cw := &Crosswalk{
		divisions:  make(map[string]string, len(file.Divisions)),
		activities: make(map[string][]string, len(file.Activities)),
	}
	for code, label := range file.Divisions {
		normalized := NormalizePrefix(code)
		if len(normalized) != DivisionDigits {
			return nil, fmt.Errorf("division %q must have %d digits", code, DivisionDigits)
		}
		cw.divisions[normalized] = strings.TrimSpace(label)
	}
	for code, targets := range file.Activities {
		key := NormalizeActivityCode(code)
		if key == "" {
			return nil, fmt.Errorf("activity %q is not a valid code", code)
		}
		mapped := make([]string, 0, len(targets))
		for _, target := range targets {
			division := NormalizePrefix(target)
			if len(division) != DivisionDigits {
				return nil, fmt.Errorf("activity %s: target %q must have %d digits", key, target, DivisionDigits)
			}
			mapped = append(mapped, division)
		}
		sort.Strings(mapped)
		cw.activities[key] = mapped
	}
	return cw, nil
}

// NormalizeActivityCode reduces "F41.20", "41.2" or "4120" to its digits.
// A leading NACE section letter is dropped.
func NormalizeActivityCode(raw string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(raw))
	if trimmed != "" && trimmed[0] >= 'A' && trimmed[0] <= 'Z' {
		trimmed = trimmed[1:]
	}
	var b strings.Builder
	for _, r := range trimmed {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == ' ':
		default:
			return ""
		}
	}
	return b.String()
}

// Divisions returns the category divisions an activity maps to, using the
// longest configured activity prefix.
func (c *Crosswalk) Divisions(activityCode string) []string {
	if c == nil {
		return nil
	}
	key := NormalizeActivityCode(activityCode)
	for n := len(key); n >= DivisionDigits; n-- {
		if targets, ok := c.activities[key[:n]]; ok {
			return targets
		}
	}
	return nil
}

// MapsTo reports whether activityCode crosswalks onto division.
func (c *Crosswalk) MapsTo(activityCode, division string) bool {
	division = NormalizePrefix(division)
	if len(division) < DivisionDigits {
		return false
	}
	division = division[:DivisionDigits]
	for _, target := range c.Divisions(activityCode) {
		if target == division {
			return true
		}
	}
	return false
}

// Label returns the vocabulary label for the division of a code.
func (c *Crosswalk) Label(code string) string {
	if c == nil {
		return ""
	}
	return c.divisions[Division(code)]
}

// KnownDivision reports whether a division exists in the vocabulary.
func (c *Crosswalk) KnownDivision(code string) bool {
	if c == nil {
		return false
	}
	_, ok := c.divisions[Division(code)]
	return ok
}
