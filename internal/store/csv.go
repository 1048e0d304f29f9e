package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"
)

// csvHeader is the column layout for alert-log exports.
var csvHeader = []string{"time", "category", "source", "status"}

// WriteAlertsCSV serialises alert records to w in the export column layout.
// Implementations of [Store.ExportAlertsCSV] share this writer so every
// backend produces identical output.
func WriteAlertsCSV(w io.Writer, recs []AlertRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("store: write csv header: %w", err)
	}
	for _, rec := range recs {
		row := []string{
			rec.Time.UTC().Format(time.RFC3339),
			rec.Category,
			rec.Source,
			rec.Status,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("store: write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("store: flush csv: %w", err)
	}
	return nil
}
