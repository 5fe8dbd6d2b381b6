package output

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stagepipe/stagepipe/internal/table"
)

func TestCSVModule_Write(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "processed")
	m, err := NewCSVModule(dir)
	if err != nil {
		t.Fatalf("NewCSVModule() error = %v", err)
	}

	tbl := table.MustNew(
		table.Column{Name: "pay_date", Kind: table.KindString, Values: []any{"2023-06-01", "2023-06-02"}},
		table.Column{Name: "total", Kind: table.KindFloat, Values: []any{10.5, 3}},
		table.Column{Name: "user_id", Kind: table.KindInt, Values: []any{1, nil}},
		table.Column{Name: "paid", Kind: table.KindBool, Values: []any{true, false}},
		table.Column{Name: "note", Kind: table.KindString, Values: []any{"a,b", nil}},
		table.Column{Name: "extra", Kind: table.KindMap, Values: []any{map[string]any{"b": 1, "a": "x"}, nil}},
	)

	path, err := m.Write(context.Background(), "pays", tbl)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if want := filepath.Join(dir, "pays.csv"); path != want {
		t.Errorf("path = %s, want %s", path, want)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "pay_date,total,user_id,paid,note,extra\n" +
		"2023-06-01,10.5,1,true,\"a,b\",\"{\"\"a\"\":\"\"x\"\",\"\"b\"\":1}\"\n" +
		"2023-06-02,3.0,,false,,\n"
	if string(data) != want {
		t.Errorf("file content =\n%s\nwant\n%s", data, want)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("folder holds %d entries, want only the export", len(entries))
	}
}

func TestCSVModule_EmptyTable(t *testing.T) {
	m, err := NewCSVModule(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	tbl := table.MustNew(table.Column{Name: "user_id", Kind: table.KindInt, Values: []any{}})
	path, err := m.Write(context.Background(), "taps", tbl)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "user_id\n" {
		t.Errorf("file content = %q", data)
	}
}

func TestCSVModule_Errors(t *testing.T) {
	if _, err := NewCSVModule(""); err == nil {
		t.Error("NewCSVModule(\"\") succeeded")
	}

	m, err := NewCSVModule(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Write(context.Background(), "pays", nil); !errors.Is(err, ErrExportFailed) {
		t.Errorf("Write(nil) error = %v, want ErrExportFailed", err)
	}
	if _, err := m.Write(context.Background(), "../pays", table.Empty()); !errors.Is(err, ErrExportFailed) {
		t.Errorf("Write(bad name) error = %v, want ErrExportFailed", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Write(ctx, "pays", table.Empty()); !errors.Is(err, context.Canceled) {
		t.Errorf("Write(canceled) error = %v", err)
	}

	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	blocked, err := NewCSVModule(file)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := blocked.Write(context.Background(), "pays", table.Empty()); !errors.Is(err, ErrExportFailed) {
		t.Errorf("Write(into file) error = %v, want ErrExportFailed", err)
	}
}

func TestFormatCell(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"x", "x"},
		{int64(-3), "-3"},
		{0.25, "0.25"},
		{2.0, "2.0"},
		{true, "true"},
	}
	for _, tt := range tests {
		got, err := formatCell(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("formatCell(%v) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
	if _, err := formatCell(struct{}{}); err == nil {
		t.Error("formatCell(struct{}) succeeded")
	}
}
