// Package evidence loads digest-to-canonical-name mappings produced by the
// external identification passes, applies the row admission policy, and exposes
// the resulting tables with deterministic alias ordering.
package evidence

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/dotlessone/texvault/pkg/digest"
	"github.com/dotlessone/texvault/pkg/logger"
)

// CSV column names in evidence tables.
const (
	ColDigest    = "digest"
	ColAssetName = "asset_name"
	ColAlpha     = "alpha_levels"
)

// Fold case-normalizes a name for comparison. All filename and canonical-name
// comparisons in the system go through this, never through the host filesystem's
// case rules.
func Fold(s string) string {
	return cases.Fold().String(s)
}

// StripExt removes the final extension from a filename.
func StripExt(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Entry is one parsed evidence row before admission.
type Entry struct {
	Digest    digest.Digest
	Name      string
	Signature string // normalized transparency signature, e.g. "[0,128,255]"; empty when absent
}

// Rejection records an evidence row that was excluded, with the reason.
type Rejection struct {
	Line   int
	Entry  Entry
	Reason string
}

// Table maps a content digest to the set of canonical names its content must
// appear under. Aliases are kept sorted by folded name so the primary alias is
// a deterministic function of the table's contents.
type Table struct {
	ID      string
	aliases map[digest.Digest][]string
}

// Has reports whether the table maps d to at least one name.
func (t *Table) Has(d digest.Digest) bool {
	_, ok := t.aliases[d]
	return ok
}

// Aliases returns the alias names for d in deterministic order.
func (t *Table) Aliases(d digest.Digest) []string {
	names := t.aliases[d]
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// Primary returns the deterministic primary alias for d: the first alias in
// folded sort order. Stable across runs for identical table contents.
func (t *Table) Primary(d digest.Digest) (string, bool) {
	names := t.aliases[d]
	if len(names) == 0 {
		return "", false
	}
	return names[0], true
}

// Len returns the number of distinct digests in the table.
func (t *Table) Len() int {
	return len(t.aliases)
}

// Pairs returns the total number of digest/name mappings.
func (t *Table) Pairs() int {
	n := 0
	for _, names := range t.aliases {
		n += len(names)
	}
	return n
}

// Digests returns all digests in sorted order.
func (t *Table) Digests() []digest.Digest {
	out := make([]digest.Digest, 0, len(t.aliases))
	for d := range t.aliases {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NormalizeSignature strips whitespace from a raw alpha-levels cell so
// signatures compare as plain strings regardless of producer formatting.
func NormalizeSignature(raw string) string {
	return strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
}

// Load parses one evidence table, admitting rows through policy. Malformed
// rows and policy denials are logged and returned as rejections, never merged.
// A missing or unreadable file is an error: reconciling against partial
// evidence is never safe.
func Load(path string, id string, policy Policy) (*Table, []Rejection, error) {
	f, err := os.Open(path) // #nosec G304 -- operator-supplied manifest path
	if err != nil {
		return nil, nil, fmt.Errorf("evidence table %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	table, rejected, err := parse(f, id, policy)
	if err != nil {
		return nil, nil, fmt.Errorf("evidence table %s: %w", path, err)
	}

	for _, r := range rejected {
		logger.Warn("evidence row rejected",
			logger.String("table", id),
			logger.Int("line", r.Line),
			logger.String("digest", r.Entry.Digest.String()),
			logger.String("name", r.Entry.Name),
			logger.String("reason", r.Reason))
	}
	logger.Info("evidence table loaded",
		logger.String("table", id),
		logger.Int("digests", table.Len()),
		logger.Int("pairs", table.Pairs()),
		logger.Int("rejected", len(rejected)))

	return table, rejected, nil
}

func parse(r io.Reader, id string, policy Policy) (*Table, []Rejection, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}

	digestCol, nameCol, alphaCol := -1, -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case ColDigest:
			digestCol = i
		case ColAssetName:
			nameCol = i
		case ColAlpha:
			alphaCol = i
		}
	}
	if digestCol < 0 || nameCol < 0 {
		return nil, nil, fmt.Errorf("header must contain %q and %q columns", ColDigest, ColAssetName)
	}

	table := &Table{ID: id, aliases: make(map[digest.Digest][]string)}
	var rejected []Rejection
	seen := make(map[digest.Digest]map[string]bool)
	line := 1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			rejected = append(rejected, Rejection{Line: line, Reason: fmt.Sprintf("malformed row: %v", err)})
			continue
		}
		if digestCol >= len(record) || nameCol >= len(record) {
			rejected = append(rejected, Rejection{Line: line, Reason: "missing required columns"})
			continue
		}

		entry := Entry{
			Digest: digest.Normalize(record[digestCol]),
			Name:   strings.TrimSpace(record[nameCol]),
		}
		if alphaCol >= 0 && alphaCol < len(record) {
			entry.Signature = NormalizeSignature(record[alphaCol])
		}

		switch {
		case entry.Name == "":
			rejected = append(rejected, Rejection{Line: line, Entry: entry, Reason: "empty asset name"})
			continue
		case !entry.Digest.Valid():
			rejected = append(rejected, Rejection{Line: line, Entry: entry, Reason: "malformed digest"})
			continue
		case entry.Digest.IsZero():
			rejected = append(rejected, Rejection{Line: line, Entry: entry, Reason: "zero digest sentinel"})
			continue
		}

		if policy != nil {
			if ok, reason := policy.Admit(entry); !ok {
				rejected = append(rejected, Rejection{Line: line, Entry: entry, Reason: reason})
				continue
			}
		}

		folded := Fold(entry.Name)
		if seen[entry.Digest] == nil {
			seen[entry.Digest] = make(map[string]bool)
		}
		if seen[entry.Digest][folded] {
			continue // duplicate digest/name pair, first occurrence wins
		}
		seen[entry.Digest][folded] = true
		table.aliases[entry.Digest] = append(table.aliases[entry.Digest], entry.Name)
	}

	for d := range table.aliases {
		names := table.aliases[d]
		sort.Slice(names, func(i, j int) bool { return Fold(names[i]) < Fold(names[j]) })
	}

	return table, rejected, nil
}
