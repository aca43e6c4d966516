package evidence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotlessone/texvault/pkg/digest"
)

func entry(name, sig string) Entry {
	return Entry{Digest: digest.Digest(digA), Name: name, Signature: sig}
}

func TestSignaturePolicyAdmit(t *testing.T) {
	policy := NewSignaturePolicy(&PolicyConfig{
		DegenerateSignatures: []string{"[0]"},
		AllowNames:           []string{"w04_demo_scr"},
	})

	tests := []struct {
		name  string
		entry Entry
		admit bool
	}{
		{"no signature", entry("foo", ""), true},
		{"healthy signature", entry("foo", "[0,128,255]"), true},
		{"degenerate rejected", entry("foo", "[0]"), false},
		{"degenerate but allow-listed", entry("w04_demo_scr", "[0]"), true},
		{"allow-list is case-folded", entry("W04_Demo_Scr", "[0]"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := policy.Admit(tt.entry)
			assert.Equal(t, tt.admit, ok, reason)
			if !tt.admit {
				assert.Contains(t, reason, "degenerate transparency signature")
			}
		})
	}
}

func TestSignaturePolicyNormalizesConfig(t *testing.T) {
	policy := NewSignaturePolicy(&PolicyConfig{
		DegenerateSignatures: []string{"[0, 0]", " [0] "},
	})

	ok, _ := policy.Admit(entry("foo", "[0,0]"))
	assert.False(t, ok, "spaces in configured signatures must not matter")
	ok, _ = policy.Admit(entry("foo", "[0]"))
	assert.False(t, ok)
}

func TestDefaultPolicyConfig(t *testing.T) {
	policy := NewSignaturePolicy(DefaultPolicyConfig())
	ok, _ := policy.Admit(entry("foo", "[0]"))
	assert.False(t, ok)
	ok, _ = policy.Admit(entry("foo", "[0,255]"))
	assert.True(t, ok)
}

func TestLoadPolicyConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admission.yaml")
	doc := `degenerate_signatures:
  - "[0]"
  - "[0,0]"
allow_names:
  - crd_pp05
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := LoadPolicyConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.DegenerateSignatures, 2)
	assert.Equal(t, []string{"crd_pp05"}, cfg.AllowNames)

	_, err = LoadPolicyConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestRegoPolicyMatchesSignaturePolicy(t *testing.T) {
	cfg := &PolicyConfig{
		DegenerateSignatures: []string{"[0]"},
		AllowNames:           []string{"crd_pp05"},
	}
	direct := NewSignaturePolicy(cfg)
	compiled, err := NewRegoPolicy(context.Background(), cfg)
	require.NoError(t, err)

	entries := []Entry{
		entry("foo", ""),
		entry("foo", "[0]"),
		entry("crd_pp05", "[0]"),
		entry("foo", "[0,128]"),
	}

	for _, e := range entries {
		wantOK, _ := direct.Admit(e)
		gotOK, reason := compiled.Admit(e)
		assert.Equal(t, wantOK, gotOK, "entry %q/%q: %s", e.Name, e.Signature, reason)
	}
}

func TestRegoPolicyEmptyConfig(t *testing.T) {
	compiled, err := NewRegoPolicy(context.Background(), &PolicyConfig{})
	require.NoError(t, err)

	ok, _ := compiled.Admit(entry("foo", "[0]"))
	assert.True(t, ok, "no degenerate signatures configured means nothing is denied")
}
