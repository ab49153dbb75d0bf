package roster

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"quizdesk/internal/auth"
)

// ProfileStore is the subset of auth.ProfileRepository the importer needs.
type ProfileStore interface {
	FindProfile(ctx context.Context, id uuid.UUID) (*auth.Profile, error)
	FindProfileByEmail(ctx context.Context, email string) (*auth.Profile, error)
	UpdateRole(ctx context.Context, id uuid.UUID, role auth.Role) (auth.Profile, error)
}

type Summary struct {
	TotalRows        int             `json:"totalRows"`
	Updated          int             `json:"updated"`
	Unchanged        []SkippedRecord `json:"unchanged"`
	Failed           []FailedRecord  `json:"failed"`
	DryRun           bool            `json:"dryRun,omitempty"`
	TruncatedRecords bool            `json:"truncatedRecords,omitempty"`
}

type SkippedRecord struct {
	Row        int    `json:"row"`
	Identifier string `json:"identifier"`
	Reason     string `json:"reason"`
}

type FailedRecord struct {
	Row        int    `json:"row"`
	Identifier string `json:"identifier,omitempty"`
	Error      string `json:"error"`
}

var ErrInvalidCSV = errors.New("invalid csv upload")

// MaxImportRows limits the number of data rows processed per import.
const MaxImportRows = 5000

// MaxFailedRecords caps the skipped and failed records kept in the summary.
const MaxFailedRecords = 100

// CSVImporter applies role assignments read from CSV. Each row names a profile
// by id or email and the role it should have.
type CSVImporter struct {
	profiles ProfileStore
}

func NewCSVImporter(profiles ProfileStore) *CSVImporter {
	return &CSVImporter{profiles: profiles}
}

// Import reads every row before touching the store, so a malformed file
// changes nothing. With dryRun set the summary reports what would change.
func (i *CSVImporter) Import(ctx context.Context, reader io.Reader, dryRun bool) (Summary, error) {
	if i.profiles == nil {
		return Summary{}, fmt.Errorf("%w: profile store is not configured", ErrInvalidCSV)
	}

	csvReader := csv.NewReader(reader)
	csvReader.FieldsPerRecord = -1
	csvReader.TrimLeadingSpace = true

	header, err := csvReader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Summary{}, fmt.Errorf("%w: file is empty", ErrInvalidCSV)
		}
		return Summary{}, fmt.Errorf("%w: failed to read header", ErrInvalidCSV)
	}

	columns, err := normalizeHeader(header)
	if err != nil {
		return Summary{}, err
	}

	type parsedRow struct {
		number int
		values map[string]string
	}

	var rows []parsedRow
	rowNumber := 1
	for {
		record, err := csvReader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Summary{}, fmt.Errorf("%w: failed to read row %d", ErrInvalidCSV, rowNumber+1)
		}
		rowNumber++
		values := mapRecord(columns, record)
		if isRowEmpty(values) {
			continue
		}
		if len(rows) == MaxImportRows {
			return Summary{}, fmt.Errorf("%w: CSV exceeds maximum of %d rows", ErrInvalidCSV, MaxImportRows)
		}
		rows = append(rows, parsedRow{number: rowNumber, values: values})
	}

	summary := Summary{TotalRows: len(rows), DryRun: dryRun}
	seen := make(map[uuid.UUID]int, len(rows))

	for _, row := range rows {
		identifier := firstNonEmpty(row.values["id"], row.values["email"])

		profile, role, rowErr := i.resolve(ctx, row.values)
		if rowErr != nil {
			summary.addFailed(FailedRecord{Row: row.number, Identifier: identifier, Error: rowErr.Error()})
			continue
		}
		if first, dup := seen[profile.ID]; dup {
			summary.addFailed(FailedRecord{
				Row:        row.number,
				Identifier: identifier,
				Error:      fmt.Sprintf("profile already assigned on row %d", first),
			})
			continue
		}
		seen[profile.ID] = row.number

		if profile.Role == role {
			summary.addUnchanged(SkippedRecord{Row: row.number, Identifier: identifier, Reason: "role already " + string(role)})
			continue
		}

		if !dryRun {
			if _, err := i.profiles.UpdateRole(ctx, profile.ID, role); err != nil {
				summary.addFailed(FailedRecord{Row: row.number, Identifier: identifier, Error: err.Error()})
				continue
			}
		}
		summary.Updated++
	}

	return summary, nil
}

func (i *CSVImporter) resolve(ctx context.Context, values map[string]string) (*auth.Profile, auth.Role, error) {
	role, err := auth.ParseRole(values["role"])
	if err != nil {
		return nil, "", err
	}

	var profile *auth.Profile
	switch {
	case values["id"] != "":
		id, parseErr := uuid.Parse(values["id"])
		if parseErr != nil {
			return nil, "", fmt.Errorf("invalid id %q", values["id"])
		}
		profile, err = i.profiles.FindProfile(ctx, id)
	case values["email"] != "":
		profile, err = i.profiles.FindProfileByEmail(ctx, values["email"])
	default:
		return nil, "", errors.New("id or email is required")
	}
	if err != nil {
		return nil, "", err
	}
	if profile == nil {
		return nil, "", auth.ErrProfileNotFound
	}
	return profile, role, nil
}

func (s *Summary) addFailed(record FailedRecord) {
	if len(s.Failed) >= MaxFailedRecords {
		s.TruncatedRecords = true
		return
	}
	s.Failed = append(s.Failed, record)
}

func (s *Summary) addUnchanged(record SkippedRecord) {
	if len(s.Unchanged) >= MaxFailedRecords {
		s.TruncatedRecords = true
		return
	}
	s.Unchanged = append(s.Unchanged, record)
}

func normalizeHeader(header []string) (map[int]string, error) {
	columns := make(map[int]string, len(header))
	seen := map[string]bool{}
	for idx, raw := range header {
		cleaned := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff")))
		if cleaned == "" {
			continue
		}
		columns[idx] = cleaned
		seen[cleaned] = true
	}

	if !seen["role"] {
		return nil, fmt.Errorf("%w: missing required columns: role", ErrInvalidCSV)
	}
	if !seen["id"] && !seen["email"] {
		return nil, fmt.Errorf("%w: missing required columns: id or email", ErrInvalidCSV)
	}
	return columns, nil
}

func mapRecord(columns map[int]string, record []string) map[string]string {
	values := make(map[string]string, len(columns))
	for idx, column := range columns {
		if idx >= len(record) {
			values[column] = ""
			continue
		}
		values[column] = strings.TrimSpace(record[idx])
	}
	return values
}

func isRowEmpty(values map[string]string) bool {
	for _, value := range values {
		if value != "" {
			return false
		}
	}
	return true
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
