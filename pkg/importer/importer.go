// Package importer loads the retailer master list from an Excel workbook.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"fieldsales-api/internal/geo"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tealeg/xlsx/v3"
	"gopkg.in/yaml.v3"
)

// DefaultMappingPath is used when Options.MappingPath is empty.
const DefaultMappingPath = "configs/mapping/retailers.yaml"

// ErrTooManyErrors is returned when more rows fail validation than
// Options.MaxErrors allows. Nothing is written in that case.
var ErrTooManyErrors = errors.New("too many invalid rows")

// Options defines the configuration for a retailer import
type Options struct {
	OrgID       int64
	MappingPath string
	DryRun      bool
	MaxErrors   int // default 50
}

// RowError represents an error that occurred during row processing
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// Summary contains the import statistics
type Summary struct {
	Sheet    string     `json:"sheet"`
	Inserted int        `json:"inserted"`
	Updated  int        `json:"updated"`
	Skipped  int        `json:"skipped"`
	Errors   int        `json:"errors"`
	Samples  []RowError `json:"error_samples,omitempty"`
	DryRun   bool       `json:"dry_run"`
}

// Mapping describes how workbook headers map onto retailer fields.
type Mapping struct {
	Version    int                 `yaml:"version"`
	Sheet      string              `yaml:"sheet"`
	NaturalKey string              `yaml:"natural_key"`
	Columns    map[string]Column   `yaml:"columns"`
	Aliases    map[string][]string `yaml:"aliases"`
}

// Column maps one header to a retailer field. A type ending in "?" is optional.
type Column struct {
	Field string `yaml:"field"`
	Type  string `yaml:"type"`
}

func (c Column) optional() bool { return strings.HasSuffix(c.Type, "?") }

func (c Column) baseType() string { return strings.ToUpper(strings.TrimSuffix(c.Type, "?")) }

var retailerFields = map[string]bool{
	"code": true, "name": true, "owner_name": true, "phone": true,
	"address": true, "route": true, "latitude": true, "longitude": true,
}

// LoadMapping reads and validates a YAML mapping file.
func LoadMapping(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping: %w", err)
	}
	return ParseMapping(data)
}

// ParseMapping decodes and validates a YAML mapping.
func ParseMapping(data []byte) (*Mapping, error) {
	var m Mapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse mapping: %w", err)
	}
	if m.NaturalKey == "" {
		m.NaturalKey = "code"
	}
	if m.NaturalKey != "code" {
		return nil, fmt.Errorf("unsupported natural_key %q", m.NaturalKey)
	}
	if len(m.Columns) == 0 {
		return nil, errors.New("mapping has no columns")
	}

	fields := map[string]bool{}
	for header, col := range m.Columns {
		if !retailerFields[col.Field] {
			return nil, fmt.Errorf("column %s: unknown field %q", header, col.Field)
		}
		switch col.baseType() {
		case "TEXT", "FLOAT":
		default:
			return nil, fmt.Errorf("column %s: unsupported type %q", header, col.Type)
		}
		fields[col.Field] = true
	}
	for _, required := range []string{"code", "name"} {
		if !fields[required] {
			return nil, fmt.Errorf("mapping must map the %s field", required)
		}
	}
	if fields["latitude"] != fields["longitude"] {
		return nil, errors.New("latitude and longitude must be mapped together")
	}
	return &m, nil
}

// Retailer is one validated workbook row.
type Retailer struct {
	Row       int
	Code      string
	Name      string
	OwnerName *string
	Phone     *string
	Address   *string
	Route     *string
	Latitude  *float64
	Longitude *float64
}

// Parsed is the outcome of reading a workbook without touching the database.
type Parsed struct {
	Sheet     string
	Retailers []Retailer
	Skipped   int
	Errors    []RowError
}

// ReadRetailers parses the mapped sheet of an .xlsx workbook. Row numbers
// in errors are 1-based, as shown by spreadsheet applications.
func ReadRetailers(data []byte, m *Mapping) (*Parsed, error) {
	wb, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}

	sheet, ok := wb.Sheet[m.Sheet]
	if !ok {
		if len(wb.Sheets) != 1 {
			return nil, fmt.Errorf("workbook has no sheet named %q", m.Sheet)
		}
		sheet = wb.Sheets[0]
	}

	header, err := sheet.Row(0)
	if err != nil {
		return nil, fmt.Errorf("read header row: %w", err)
	}
	cols, err := resolveHeader(header, sheet.MaxCol, m)
	if err != nil {
		return nil, err
	}

	out := &Parsed{Sheet: sheet.Name}
	firstSeen := map[string]int{}
	for i := 1; i < sheet.MaxRow; i++ {
		row, err := sheet.Row(i)
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", i+1, err)
		}

		// Raw values; display formatting would mangle long phone numbers
		values := map[string]string{}
		for idx, col := range cols {
			if v := strings.TrimSpace(row.GetCell(idx).Value); v != "" {
				values[col.Field] = v
			}
		}
		if len(values) == 0 {
			out.Skipped++
			continue
		}

		rt, err := buildRetailer(i+1, values, cols)
		if err != nil {
			out.Errors = append(out.Errors, RowError{Row: i + 1, Message: err.Error()})
			continue
		}
		if prev, dup := firstSeen[rt.Code]; dup {
			out.Errors = append(out.Errors, RowError{
				Row:     i + 1,
				Message: fmt.Sprintf("duplicate code %q (first seen on row %d)", rt.Code, prev),
			})
			continue
		}
		firstSeen[rt.Code] = i + 1
		out.Retailers = append(out.Retailers, rt)
	}
	return out, nil
}

// resolveHeader maps column indexes to mapping columns by header name or alias.
func resolveHeader(header *xlsx.Row, maxCol int, m *Mapping) (map[int]Column, error) {
	lookup := map[string]string{}
	for name := range m.Columns {
		lookup[strings.ToUpper(name)] = name
		for _, alias := range m.Aliases[name] {
			lookup[strings.ToUpper(strings.TrimSpace(alias))] = name
		}
	}

	cols := map[int]Column{}
	found := map[string]bool{}
	for idx := 0; idx < maxCol; idx++ {
		text := strings.ToUpper(strings.TrimSpace(header.GetCell(idx).Value))
		name, ok := lookup[text]
		if !ok || found[name] {
			continue
		}
		found[name] = true
		cols[idx] = m.Columns[name]
	}

	var missing []string
	for name, col := range m.Columns {
		if !col.optional() && !found[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

func buildRetailer(rowNum int, values map[string]string, cols map[int]Column) (Retailer, error) {
	rt := Retailer{Row: rowNum}
	for _, col := range cols {
		v, ok := values[col.Field]
		if !ok {
			if !col.optional() {
				return rt, fmt.Errorf("%s is required", col.Field)
			}
			continue
		}

		if col.baseType() == "FLOAT" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return rt, fmt.Errorf("%s: %q is not a number", col.Field, v)
			}
			switch col.Field {
			case "latitude":
				rt.Latitude = &f
			case "longitude":
				rt.Longitude = &f
			}
			continue
		}

		s := v
		switch col.Field {
		case "code":
			rt.Code = s
		case "name":
			rt.Name = s
		case "owner_name":
			rt.OwnerName = &s
		case "phone":
			rt.Phone = &s
		case "address":
			rt.Address = &s
		case "route":
			rt.Route = &s
		}
	}

	if (rt.Latitude == nil) != (rt.Longitude == nil) {
		return rt, errors.New("latitude and longitude must both be set or both be empty")
	}
	if rt.Latitude != nil && !(geo.Point{Lat: *rt.Latitude, Lon: *rt.Longitude}).Valid() {
		return rt, fmt.Errorf("coordinates %v,%v are out of range", *rt.Latitude, *rt.Longitude)
	}
	return rt, nil
}

// ImportRetailers reads an .xlsx workbook and upserts its retailers by code.
// A dry run performs the same writes inside a transaction that is rolled
// back, so the counts match what a real run would do.
func ImportRetailers(ctx context.Context, db *pgxpool.Pool, r io.Reader, opts Options) (Summary, error) {
	summary := Summary{DryRun: opts.DryRun}

	if opts.OrgID <= 0 {
		return summary, errors.New("org id is required")
	}
	if opts.MappingPath == "" {
		opts.MappingPath = DefaultMappingPath
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = 50
	}

	mapping, err := LoadMapping(opts.MappingPath)
	if err != nil {
		return summary, err
	}

	// OpenBinary needs the whole file
	data, err := io.ReadAll(r)
	if err != nil {
		return summary, fmt.Errorf("read workbook: %w", err)
	}
	parsed, err := ReadRetailers(data, mapping)
	if err != nil {
		return summary, err
	}

	summary.Sheet = parsed.Sheet
	summary.Skipped = parsed.Skipped
	summary.Errors = len(parsed.Errors)
	summary.Samples = parsed.Errors
	if len(summary.Samples) > opts.MaxErrors {
		summary.Samples = summary.Samples[:opts.MaxErrors]
	}
	if summary.Errors > opts.MaxErrors {
		return summary, fmt.Errorf("%w: %d (max %d)", ErrTooManyErrors, summary.Errors, opts.MaxErrors)
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return summary, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Org context for row-level security, scoped to this transaction
	if _, err := tx.Exec(ctx, "SELECT set_config('app.current_org_id', $1::text, true)", opts.OrgID); err != nil {
		return summary, fmt.Errorf("set org context: %w", err)
	}

	for _, rt := range parsed.Retailers {
		inserted, err := upsertRetailer(ctx, tx, opts.OrgID, rt)
		if err != nil {
			return summary, fmt.Errorf("row %d: %w", rt.Row, err)
		}
		if inserted {
			summary.Inserted++
		} else {
			summary.Updated++
		}
	}

	if opts.DryRun {
		return summary, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return summary, fmt.Errorf("commit: %w", err)
	}
	return summary, nil
}

// upsertRetailer writes one retailer. Optional fields missing from the
// workbook keep their stored values.
func upsertRetailer(ctx context.Context, tx pgx.Tx, orgID int64, rt Retailer) (bool, error) {
	var inserted bool
	err := tx.QueryRow(ctx, `
		INSERT INTO retailers (org_id, code, name, owner_name, phone, address, route, latitude, longitude)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (org_id, code) DO UPDATE SET
			name       = EXCLUDED.name,
			owner_name = COALESCE(EXCLUDED.owner_name, retailers.owner_name),
			phone      = COALESCE(EXCLUDED.phone, retailers.phone),
			address    = COALESCE(EXCLUDED.address, retailers.address),
			route      = COALESCE(EXCLUDED.route, retailers.route),
			latitude   = COALESCE(EXCLUDED.latitude, retailers.latitude),
			longitude  = COALESCE(EXCLUDED.longitude, retailers.longitude),
			updated_at = now()
		RETURNING (xmax = 0)`,
		orgID, rt.Code, rt.Name, rt.OwnerName, rt.Phone, rt.Address, rt.Route, rt.Latitude, rt.Longitude,
	).Scan(&inserted)
	return inserted, err
}
