// Package ingest parses recipient spreadsheets uploaded by the operator.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"wablast/internal/dispatch"
)

var (
	ErrNoSheet   = errors.New("ingest: workbook has no sheets")
	ErrNoHeader  = errors.New("ingest: first row has no recognizable headers")
	ErrEmptyFile = errors.New("ingest: no recipient rows")
)

// Header synonyms, lowercase. The canonical names are the Spanish ones
// the operators' spreadsheets have always used.
var headerAliases = map[string]string{
	"nombre":      "nombre",
	"name":        "nombre",
	"cliente":     "nombre",
	"telefono":    "telefono",
	"teléfono":    "telefono",
	"phone":       "telefono",
	"tel":         "telefono",
	"celular":     "telefono",
	"codigo":      "codigo",
	"código":      "codigo",
	"code":        "codigo",
	"vencimiento": "vencimiento",
	"expiry":      "vencimiento",
	"expiration":  "vencimiento",
	"vence":       "vencimiento",
}

// Parse reads the first worksheet into recipient records.
//
// Headers are matched case-insensitively after trimming; unknown columns
// are ignored. Missing cells come through as empty fields, left for the
// dispatch validator to reject. Phone cells are kept raw, scientific
// notation included; normalization happens at dispatch time.
func Parse(r io.Reader) ([]dispatch.Recipient, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("ingest: opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoSheet
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("ingest: reading sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, ErrNoHeader
	}

	cols := map[string]int{}
	for i, h := range rows[0] {
		key := strings.ToLower(strings.TrimSpace(h))
		if canonical, ok := headerAliases[key]; ok {
			if _, dup := cols[canonical]; !dup {
				cols[canonical] = i
			}
		}
	}
	if len(cols) == 0 {
		return nil, ErrNoHeader
	}

	cell := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []dispatch.Recipient
	for _, row := range rows[1:] {
		rec := dispatch.Recipient{
			Name:   cell(row, "nombre"),
			Phone:  cell(row, "telefono"),
			Code:   cell(row, "codigo"),
			Expiry: cell(row, "vencimiento"),
		}
		if rec.Name == "" && rec.Phone == "" && rec.Code == "" && rec.Expiry == "" {
			continue
		}
		rec.Status = dispatch.StatusPending
		out = append(out, rec)
	}
	if len(out) == 0 {
		return nil, ErrEmptyFile
	}
	return out, nil
}
