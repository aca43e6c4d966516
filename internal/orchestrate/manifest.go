// Package orchestrate loads pass manifests and drives ordered reconciliation
// passes followed by the verification suite.
package orchestrate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/xeipuuv/gojsonschema"
)

// PassSpec names one evidence table and its trust level within a run.
type PassSpec struct {
	ID            string `toml:"id"`
	Evidence      string `toml:"evidence"`
	ConflictCheck bool   `toml:"conflict_check"`
}

// Manifest is the TOML run description. Relative paths are resolved against
// the manifest's own directory at load time.
type Manifest struct {
	StoreRoot         string     `toml:"store_root"`
	CandidateRoots    []string   `toml:"candidate_roots"`
	Extensions        []string   `toml:"extensions"`
	ExcludeSubstrings []string   `toml:"exclude_substrings"`
	ExcludePatterns   []string   `toml:"exclude_patterns"`
	Ledger            string     `toml:"ledger"`
	Reference         string     `toml:"reference"`
	Policy            string     `toml:"policy"`
	LogDir            string     `toml:"log_dir"`
	Passes            []PassSpec `toml:"pass"`
}

// manifestSchema constrains manifests before any path is touched. Pass order
// in the document is execution order.
const manifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["store_root", "candidate_roots", "pass"],
  "properties": {
    "store_root": {"type": "string", "minLength": 1},
    "candidate_roots": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "string", "minLength": 1}
    },
    "extensions": {
      "type": "array",
      "items": {"type": "string", "pattern": "^\\."}
    },
    "exclude_substrings": {"type": "array", "items": {"type": "string"}},
    "exclude_patterns": {"type": "array", "items": {"type": "string"}},
    "ledger": {"type": "string"},
    "reference": {"type": "string"},
    "policy": {"type": "string"},
    "log_dir": {"type": "string"},
    "pass": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "evidence"],
        "properties": {
          "id": {"type": "string", "pattern": "^[A-Za-z0-9._-]+$"},
          "evidence": {"type": "string", "minLength": 1},
          "conflict_check": {"type": "boolean"}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

// LoadManifest parses and validates a run manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- user-supplied manifest path
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var raw map[string]interface{}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(manifestSchema),
		gojsonschema.NewGoLoader(raw),
	)
	if err != nil {
		return nil, fmt.Errorf("validate manifest: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return nil, fmt.Errorf("invalid manifest %s: %s", path, strings.Join(msgs, "; "))
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	m.applyDefaults()
	if err := m.checkPassIDs(); err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	m.resolve(base)
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if len(m.Extensions) == 0 {
		m.Extensions = []string{".png"}
	}
	if m.LogDir == "" {
		m.LogDir = "logs"
	}
}

func (m *Manifest) checkPassIDs() error {
	seen := make(map[string]bool, len(m.Passes))
	for _, p := range m.Passes {
		if seen[p.ID] {
			return fmt.Errorf("duplicate pass id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

func (m *Manifest) resolve(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	m.StoreRoot = abs(m.StoreRoot)
	for i, r := range m.CandidateRoots {
		m.CandidateRoots[i] = abs(r)
	}
	m.Ledger = abs(m.Ledger)
	m.Reference = abs(m.Reference)
	m.Policy = abs(m.Policy)
	m.LogDir = abs(m.LogDir)
	for i, p := range m.Passes {
		m.Passes[i].Evidence = abs(p.Evidence)
	}
}
