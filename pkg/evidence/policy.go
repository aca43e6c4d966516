package evidence

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"
	"gopkg.in/yaml.v3"
)

// Policy decides whether a parsed evidence row may enter a table. The
// degenerate-signature set and its allow-listed exception names are pipeline
// policy, so they are injected configuration, never hard-coded.
type Policy interface {
	Admit(e Entry) (bool, string)
}

// PolicyConfig is the YAML shape of an admission policy file.
type PolicyConfig struct {
	// DegenerateSignatures lists transparency signatures that mark a row as a
	// known-degenerate all-transparent image, e.g. "[0]".
	DegenerateSignatures []string `yaml:"degenerate_signatures"`
	// AllowNames lists canonical names exempt from the degenerate check.
	AllowNames []string `yaml:"allow_names"`
}

// DefaultPolicyConfig returns the policy used when no policy file is supplied:
// reject the all-transparent signature, no exemptions.
func DefaultPolicyConfig() *PolicyConfig {
	return &PolicyConfig{DegenerateSignatures: []string{"[0]"}}
}

// LoadPolicyConfig reads a YAML admission policy file.
func LoadPolicyConfig(path string) (*PolicyConfig, error) {
	cleaned := filepath.Clean(path)
	data, err := os.ReadFile(cleaned) // #nosec G304 -- operator-supplied manifest path
	if err != nil {
		return nil, fmt.Errorf("policy file %s: %w", path, err)
	}
	var cfg PolicyConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("policy file %s: %w", path, err)
	}
	return &cfg, nil
}

// SignaturePolicy is the direct Go evaluation of a PolicyConfig.
type SignaturePolicy struct {
	degenerate map[string]bool
	allowed    map[string]bool
}

// NewSignaturePolicy builds a SignaturePolicy from cfg.
func NewSignaturePolicy(cfg *PolicyConfig) *SignaturePolicy {
	p := &SignaturePolicy{
		degenerate: make(map[string]bool, len(cfg.DegenerateSignatures)),
		allowed:    make(map[string]bool, len(cfg.AllowNames)),
	}
	for _, s := range cfg.DegenerateSignatures {
		p.degenerate[NormalizeSignature(s)] = true
	}
	for _, n := range cfg.AllowNames {
		p.allowed[Fold(n)] = true
	}
	return p
}

// Admit rejects rows whose signature is on the degenerate list unless the name
// is allow-listed. Rows without a signature column are always admitted.
func (p *SignaturePolicy) Admit(e Entry) (bool, string) {
	if e.Signature == "" {
		return true, ""
	}
	if !p.degenerate[e.Signature] {
		return true, ""
	}
	if p.allowed[Fold(e.Name)] {
		return true, ""
	}
	return false, fmt.Sprintf("degenerate transparency signature %s", e.Signature)
}

// RegoPolicy evaluates admission through an embedded OPA module compiled from
// the same PolicyConfig, for deployments that maintain the policy as Rego.
type RegoPolicy struct {
	query rego.PreparedEvalQuery
}

// NewRegoPolicy transpiles cfg to Rego and prepares the deny query.
func NewRegoPolicy(ctx context.Context, cfg *PolicyConfig) (*RegoPolicy, error) {
	module := transpileConfigToRego(cfg)
	query, err := rego.New(
		rego.Query("data.texvault.evidence.deny"),
		rego.Module("admission.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile admission policy: %w", err)
	}
	return &RegoPolicy{query: query}, nil
}

// Admit evaluates the deny set for one row.
func (p *RegoPolicy) Admit(e Entry) (bool, string) {
	input := map[string]interface{}{
		"digest":       e.Digest.String(),
		"asset_name":   Fold(e.Name),
		"alpha_levels": e.Signature,
	}
	rs, err := p.query.Eval(context.Background(), rego.EvalInput(input))
	if err != nil {
		// Policy evaluation failure keeps the row out rather than letting
		// unvetted evidence into the table.
		return false, fmt.Sprintf("policy evaluation failed: %v", err)
	}
	for _, result := range rs {
		for _, expr := range result.Expressions {
			if msgs, ok := expr.Value.([]interface{}); ok && len(msgs) > 0 {
				return false, fmt.Sprintf("%v", msgs[0])
			}
		}
	}
	return true, ""
}

// transpileConfigToRego emits the admission module for a PolicyConfig.
func transpileConfigToRego(cfg *PolicyConfig) string {
	var buf bytes.Buffer

	buf.WriteString("package texvault.evidence\n\n")

	buf.WriteString("default allowed_name := false\n\n")
	buf.WriteString("allowed_name if {\n")
	buf.WriteString("  allowed := ")
	buf.WriteString(formatRegoArray(foldAll(cfg.AllowNames)))
	buf.WriteString("\n")
	buf.WriteString("  allowed[_] == input.asset_name\n")
	buf.WriteString("}\n\n")

	buf.WriteString("deny contains msg if {\n")
	buf.WriteString("  degenerate := ")
	buf.WriteString(formatRegoArray(normalizeAll(cfg.DegenerateSignatures)))
	buf.WriteString("\n")
	buf.WriteString("  degenerate[_] == input.alpha_levels\n")
	buf.WriteString("  not allowed_name\n")
	buf.WriteString("  msg := sprintf(\"degenerate transparency signature %s\", [input.alpha_levels])\n")
	buf.WriteString("}\n")

	return buf.String()
}

func foldAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = Fold(n)
	}
	return out
}

func normalizeAll(sigs []string) []string {
	out := make([]string, len(sigs))
	for i, s := range sigs {
		out[i] = NormalizeSignature(s)
	}
	return out
}

func formatRegoArray(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
