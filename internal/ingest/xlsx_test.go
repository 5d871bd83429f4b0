package ingest

import (
	"bytes"
	"errors"
	"testing"

	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T, rows [][]any) *bytes.Reader {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		addr, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetSheetRow(sheet, addr, &row); err != nil {
			t.Fatal(err)
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(buf.Bytes())
}

func TestParseSpanishHeaders(t *testing.T) {
	t.Parallel()
	r := buildWorkbook(t, [][]any{
		{"Nombre", "Telefono", "Codigo", "Vencimiento"},
		{"Ana", "5491122334455", "C1", "2025-01-01"},
		{"Bruno", "5491199887766", "C2", "2025-02-01"},
	})

	rs, err := Parse(r)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(rs) != 2 {
		t.Fatalf("recipients = %d, want 2", len(rs))
	}
	if rs[0].Name != "Ana" || rs[0].Phone != "5491122334455" || rs[0].Code != "C1" || rs[0].Expiry != "2025-01-01" {
		t.Fatalf("recipient 0 = %+v", rs[0])
	}
}

func TestParseEnglishSynonyms(t *testing.T) {
	t.Parallel()
	r := buildWorkbook(t, [][]any{
		{"Name", "Phone", "Code", "Expiry"},
		{"Ana", "5491122334455", "C1", "2025-01-01"},
	})

	rs, err := Parse(r)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(rs) != 1 || rs[0].Name != "Ana" {
		t.Fatalf("recipients = %+v", rs)
	}
}

func TestParseMissingCellsTolerated(t *testing.T) {
	t.Parallel()
	r := buildWorkbook(t, [][]any{
		{"Nombre", "Telefono", "Codigo", "Vencimiento"},
		{"Ana", "5491122334455"}, // short row
	})

	rs, err := Parse(r)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if rs[0].Code != "" || rs[0].Expiry != "" {
		t.Fatalf("missing cells should be empty, got %+v", rs[0])
	}
}

func TestParseNumericPhoneKeptRaw(t *testing.T) {
	t.Parallel()
	r := buildWorkbook(t, [][]any{
		{"Nombre", "Telefono", "Codigo", "Vencimiento"},
		{"Ana", 5491122334455, "C1", "2025-01-01"},
	})

	rs, err := Parse(r)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if rs[0].Phone == "" {
		t.Fatal("numeric phone cell lost")
	}
}

func TestParseBlankRowsSkipped(t *testing.T) {
	t.Parallel()
	r := buildWorkbook(t, [][]any{
		{"Nombre", "Telefono", "Codigo", "Vencimiento"},
		{"", "", "", ""},
		{"Ana", "5491122334455", "C1", "2025-01-01"},
	})

	rs, err := Parse(r)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(rs) != 1 {
		t.Fatalf("recipients = %d, want 1 (blank row skipped)", len(rs))
	}
}

func TestParseNoRecognizableHeaders(t *testing.T) {
	t.Parallel()
	r := buildWorkbook(t, [][]any{
		{"foo", "bar"},
		{"1", "2"},
	})
	if _, err := Parse(r); !errors.Is(err, ErrNoHeader) {
		t.Fatalf("err = %v, want ErrNoHeader", err)
	}
}

func TestParseHeaderOnly(t *testing.T) {
	t.Parallel()
	r := buildWorkbook(t, [][]any{
		{"Nombre", "Telefono", "Codigo", "Vencimiento"},
	})
	if _, err := Parse(r); !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("err = %v, want ErrEmptyFile", err)
	}
}

func TestParseGarbageRejected(t *testing.T) {
	t.Parallel()
	if _, err := Parse(bytes.NewReader([]byte("not a zip"))); err == nil {
		t.Fatal("expected error for non-xlsx input")
	}
}
