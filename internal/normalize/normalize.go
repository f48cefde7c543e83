package normalize

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// ErrUnparsable indicates the input could not be read as delimited text at
// all. Row-level defects (jagged rows, quoted newlines, extra values) are
// tolerated and never produce this error.
var ErrUnparsable = errors.New("input is not parsable as delimited text")

// SyntheticPrefix marks auto-generated index columns written by upstream
// tools that serialize a dataframe index into the file.
const SyntheticPrefix = "Unnamed"

type Stats struct {
	Rows        int64
	RowsDropped int64
	Columns     int
}

type rowFunc func(record []string) []string

// Policy transforms one CSV table. bind receives the header and returns the
// output header plus the per-row transform, so a single Policy value is safe
// to share across concurrent Clean calls.
type Policy interface {
	bind(header []string) ([]string, rowFunc)
}

// Clean streams csv rows from r through the policy into w, one row at a
// time, so arbitrarily large files are processed in constant memory.
func Clean(r io.Reader, w io.Writer, policy Policy) (Stats, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // tolerate jagged rows
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}

	outHeader, apply := policy.bind(header)

	writer := csv.NewWriter(w)
	if err := writer.Write(outHeader); err != nil {
		return Stats{}, fmt.Errorf("failed to write header: %w", err)
	}

	stats := Stats{Columns: len(outHeader)}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A row that cannot be read even with lazy quoting is discarded,
			// not repaired; the rest of the file still loads.
			slog.Warn("dropping unreadable csv row", "error", err)
			stats.RowsDropped++
			continue
		}

		record = padToWidth(record, len(header))

		if err := writer.Write(apply(record)); err != nil {
			return stats, fmt.Errorf("failed to write row: %w", err)
		}
		stats.Rows++
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return stats, fmt.Errorf("failed to flush cleaned output: %w", err)
	}

	return stats, nil
}

// padToWidth null-fills missing trailing fields so short rows keep the
// header's width. Extra fields are preserved; the warehouse's unknown-value
// handling decides what happens to them.
func padToWidth(record []string, width int) []string {
	for len(record) < width {
		record = append(record, "")
	}
	return record
}

type dropSynthetic struct {
	prefix string
}

// DropSynthetic nulls out every value in columns whose header is empty or
// starts with the given sentinel prefix (SyntheticPrefix when empty). The
// columns keep their position so row width stays consistent; re-running on a
// header with no synthetic columns is a no-op.
func DropSynthetic(prefix string) Policy {
	if prefix == "" {
		prefix = SyntheticPrefix
	}
	return &dropSynthetic{prefix: prefix}
}

func (p *dropSynthetic) bind(header []string) ([]string, rowFunc) {
	var synthetic []int
	for i, name := range header {
		if name == "" || strings.HasPrefix(name, p.prefix) {
			synthetic = append(synthetic, i)
		}
	}

	return header, func(record []string) []string {
		for _, i := range synthetic {
			if i < len(record) {
				record[i] = ""
			}
		}
		return record
	}
}

type dropLeading struct {
	n int
}

// DropLeading removes a fixed prefix of positional columns from the header
// and every row uniformly.
func DropLeading(n int) Policy {
	return &dropLeading{n: n}
}

func (p *dropLeading) bind(header []string) ([]string, rowFunc) {
	drop := func(record []string) []string {
		if p.n >= len(record) {
			return []string{}
		}
		return record[p.n:]
	}

	return drop(header), drop
}

// TypeRules names the columns a Types policy coerces. Unlisted columns pass
// through untouched.
type TypeRules struct {
	DateColumns []string
	BoolColumns []string
	IntColumns  []string
}

type typeNormalize struct {
	rules TypeRules
}

// Types coerces known columns into canonical representations: dates become
// YYYY-MM-DD (unparsable dates become null rather than failing the row),
// boolean-like values become true/false, and numeric columns become integers
// with non-numeric values mapped to 0.
func Types(rules TypeRules) Policy {
	return &typeNormalize{rules: rules}
}

func (p *typeNormalize) bind(header []string) ([]string, rowFunc) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}

	dateIdx := columnIndices(index, p.rules.DateColumns)
	boolIdx := columnIndices(index, p.rules.BoolColumns)
	intIdx := columnIndices(index, p.rules.IntColumns)

	return header, func(record []string) []string {
		for _, i := range dateIdx {
			record[i] = normalizeDate(record[i])
		}
		for _, i := range boolIdx {
			record[i] = normalizeBool(record[i])
		}
		for _, i := range intIdx {
			record[i] = normalizeInt(record[i])
		}
		return record
	}
}

func columnIndices(index map[string]int, names []string) []int {
	var out []int
	for _, name := range names {
		if i, ok := index[name]; ok {
			out = append(out, i)
		}
	}
	return out
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006/01/02",
	"01/02/2006",
}

func normalizeDate(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format("2006-01-02")
		}
	}

	// Malformed dates become null, matching the coerce-then-null behavior
	// the destination table expects.
	return ""
}

func normalizeBool(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "false", "f", "0", "no", "n":
		return "false"
	default:
		return "true"
	}
}

func normalizeInt(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "0"
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return "0"
	}
	return strconv.FormatInt(int64(f), 10)
}
