package evidence

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dotlessone/texvault/pkg/digest"
	"github.com/dotlessone/texvault/pkg/logger"
)

// Ledger is the set of digests recorded as seen during extraction.
// The coverage check reports any store digest absent from it.
type Ledger map[digest.Digest]bool

// Has reports whether d was seen during extraction.
func (l Ledger) Has(d digest.Digest) bool {
	return l[d]
}

// LoadLedger reads a flat digest table. Zero-digest sentinel rows and malformed
// digests are skipped. A missing ledger is fatal: coverage verification cannot
// run without it.
func LoadLedger(path string) (Ledger, error) {
	f, err := os.Open(path) // #nosec G304 -- operator-supplied manifest path
	if err != nil {
		return nil, fmt.Errorf("digest ledger %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("digest ledger %s: read header: %w", path, err)
	}
	col := columnIndex(header, ColDigest)
	if col < 0 {
		return nil, fmt.Errorf("digest ledger %s: header must contain %q column", path, ColDigest)
	}

	ledger := make(Ledger)
	skipped := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil || col >= len(record) {
			skipped++
			continue
		}
		d := digest.Normalize(record[col])
		if !d.Valid() || d.IsZero() {
			skipped++
			continue
		}
		ledger[d] = true
	}

	logger.Info("digest ledger loaded",
		logger.String("path", path),
		logger.Int("digests", len(ledger)),
		logger.Int("skipped", skipped))
	return ledger, nil
}

// ReferenceEntry is one expected canonical name, with optional expected pixel
// dimensions carried through for reporting.
type ReferenceEntry struct {
	Name   string
	Width  int
	Height int
}

// Reference maps folded canonical names to their expected entries.
type Reference map[string]ReferenceEntry

// LoadReference reads the expected canonical name list used by the
// completeness check. A missing reference list is fatal.
func LoadReference(path string) (Reference, error) {
	f, err := os.Open(path) // #nosec G304 -- operator-supplied manifest path
	if err != nil {
		return nil, fmt.Errorf("reference list %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reference list %s: read header: %w", path, err)
	}
	nameCol := columnIndex(header, ColAssetName)
	if nameCol < 0 {
		return nil, fmt.Errorf("reference list %s: header must contain %q column", path, ColAssetName)
	}
	widthCol := columnIndex(header, "width")
	heightCol := columnIndex(header, "height")

	ref := make(Reference)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil || nameCol >= len(record) {
			continue
		}
		name := strings.TrimSpace(record[nameCol])
		if name == "" {
			continue
		}
		entry := ReferenceEntry{Name: name}
		if widthCol >= 0 && widthCol < len(record) {
			entry.Width, _ = strconv.Atoi(strings.TrimSpace(record[widthCol]))
		}
		if heightCol >= 0 && heightCol < len(record) {
			entry.Height, _ = strconv.Atoi(strings.TrimSpace(record[heightCol]))
		}
		ref[Fold(name)] = entry
	}

	logger.Info("reference list loaded",
		logger.String("path", path),
		logger.Int("names", len(ref)))
	return ref, nil
}

func columnIndex(header []string, name string) int {
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), name) {
			return i
		}
	}
	return -1
}
