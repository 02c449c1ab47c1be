// Package csvio reads and writes transactions in the CSV interchange format:
// a header row id,date,type,category,amount,note followed by one row per
// transaction.
package csvio

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"budgettracker/internal/models"
)

// Header is the exported column order.
var Header = []string{"id", "date", "type", "category", "amount", "note"}

// Export renders items with every field double-quoted and embedded quotes
// doubled. Rows are separated by "\n" with no trailing newline.
func Export(items []models.Transaction) string {
	rows := make([]string, 0, len(items)+1)
	rows = append(rows, quoteRow(Header))
	for _, t := range items {
		rows = append(rows, quoteRow([]string{
			t.ID,
			t.Date,
			string(t.Type),
			t.Category,
			t.Amount.String(),
			t.Note,
		}))
	}
	return strings.Join(rows, "\n")
}

// Write streams Export(items) to w.
func Write(w io.Writer, items []models.Transaction) error {
	if _, err := io.WriteString(w, Export(items)); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	return nil
}

func quoteRow(fields []string) string {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(quoted, ",")
}

// Result is the outcome of parsing an import file.
type Result struct {
	Rows    []models.NewTransaction
	Skipped int
}

// Import parses r. The header is matched case-insensitively and accepts
// "amt" for amount and "cat" for category. Rows whose amount is missing,
// unparseable or zero are skipped, as are rows with a malformed date. Type is income only on an exact "income",
// otherwise expense. Category defaults to General, date to today and note to
// empty. Input with fewer than two non-blank lines yields no rows.
func Import(r io.Reader, now time.Time) (Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return Result{}, fmt.Errorf("reading csv: %w", err)
	}

	var lines [][]string
	for _, rec := range records {
		if !blank(rec) {
			lines = append(lines, rec)
		}
	}
	if len(lines) < 2 {
		return Result{}, nil
	}

	columns := make(map[string]int)
	for i, h := range lines[0] {
		name := strings.ToLower(clean(h))
		if _, dup := columns[name]; !dup {
			columns[name] = i
		}
	}
	// field returns the decoded value of the first named column that is
	// non-empty in rec. Values are not trimmed.
	field := func(rec []string, names ...string) string {
		for _, n := range names {
			if i, ok := columns[n]; ok && i < len(rec) && rec[i] != "" {
				return rec[i]
			}
		}
		return ""
	}
	trimmed := func(rec []string, names ...string) string {
		return strings.TrimSpace(field(rec, names...))
	}

	var res Result
	for _, rec := range lines[1:] {
		amount, ok := parseAmount(trimmed(rec, "amount", "amt"))
		if !ok {
			res.Skipped++
			continue
		}
		in := models.NewTransaction{
			Amount:   amount,
			Category: field(rec, "category", "cat"),
			Date:     trimmed(rec, "date"),
			Note:     field(rec, "note"),
			Type:     models.NormalizeType(trimmed(rec, "type")),
		}
		in = in.WithDefaults(now)
		if in.Validate() != nil {
			res.Skipped++
			continue
		}
		res.Rows = append(res.Rows, in)
	}
	return res, nil
}

// ImportString is Import over an in-memory document.
func ImportString(s string, now time.Time) (Result, error) {
	return Import(strings.NewReader(s), now)
}

func parseAmount(s string) (decimal.Decimal, bool) {
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Zero, false
		}
		d = decimal.NewFromFloat(f)
	}
	if d.IsZero() {
		return decimal.Zero, false
	}
	return d, true
}

// clean normalizes a header cell, tolerating stray quotes around the name.
func clean(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"`))
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
