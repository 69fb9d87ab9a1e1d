// Package intake turns external booking requests, CSV files and API
// payloads, into validated booking records.
package intake

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"
)

// A CSV file carries one request per row: Date,Time1,Time2,Status. Only rows
// whose Status directive is "book" (case-insensitive) become bookings.

type Row struct {
	TargetDate time.Time
	Primary    string
	Fallback   string
}

type Summary struct {
	Added   int      `json:"added"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
	Total   int      `json:"total"`
}

// ParseCSV reads booking rows, skipping the header and any row not marked
// for booking. Malformed rows are reported in the summary, not fatal.
func ParseCSV(r io.Reader) ([]Row, Summary, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, Summary{}, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, Summary{}, fmt.Errorf("empty file")
	}

	var (
		rows []Row
		sum  Summary
	)
	for i, rec := range records {
		if i == 0 && isHeader(rec) {
			continue
		}
		sum.Total++
		if len(rec) < 4 {
			sum.Errors = append(sum.Errors, fmt.Sprintf("row %d: expected 4 fields, got %d", i+1, len(rec)))
			continue
		}
		directive := strings.ToLower(strings.TrimSpace(rec[3]))
		if directive != "book" {
			sum.Skipped++
			continue
		}
		date, err := time.Parse("2006-01-02", strings.TrimSpace(rec[0]))
		if err != nil {
			sum.Errors = append(sum.Errors, fmt.Sprintf("row %d: bad date %q", i+1, rec[0]))
			continue
		}
		primary := strings.TrimSpace(rec[1])
		if primary == "" {
			sum.Errors = append(sum.Errors, fmt.Sprintf("row %d: primary time is required", i+1))
			continue
		}
		rows = append(rows, Row{
			TargetDate: date,
			Primary:    primary,
			Fallback:   strings.TrimSpace(rec[2]),
		})
		sum.Added++
	}
	return rows, sum, nil
}

func isHeader(rec []string) bool {
	return len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "date")
}
