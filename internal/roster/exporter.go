// Package roster reads and writes profile role assignments as CSV.
package roster

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"quizdesk/internal/auth"
)

// SchemaVersion identifies the CSV export format version.
const SchemaVersion = "1"

// csvColumns is a superset of the import format so exports can be edited and
// imported again.
var csvColumns = []string{
	"schemaVersion",
	"id",
	"email",
	"role",
	"createdAt",
}

// CSVExporter writes profiles as CSV.
type CSVExporter struct{}

// NewCSVExporter creates a new CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Export writes the header followed by one row per profile.
func (e *CSVExporter) Export(w io.Writer, profiles []auth.Profile) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(csvColumns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, profile := range profiles {
		if err := writer.Write(profileToRow(profile)); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func profileToRow(profile auth.Profile) []string {
	return []string{
		SchemaVersion,
		profile.ID.String(),
		profile.Email,
		string(profile.Role),
		formatTime(profile.CreatedAt),
	}
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}
