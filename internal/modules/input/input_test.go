package input

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/stagepipe/stagepipe/internal/table"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func column(t *testing.T, tbl *table.Table, name string) table.Column {
	t.Helper()
	c, ok := tbl.Column(name)
	if !ok {
		t.Fatalf("column %q missing (have %v)", name, tbl.ColumnNames())
	}
	return c
}

func TestCSVModule_Read(t *testing.T) {
	path := writeFile(t, "pays.csv",
		"pay_date,total,user_id,value_prop\n"+
			"2023-06-01,10.5,1,cellphone\n"+
			"2023-06-02,7,2,\n"+
			"2023-06-03,,3,prepaid\n")

	m, err := NewCSVModule(path, "")
	if err != nil {
		t.Fatal(err)
	}
	tbl, err := m.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got := tbl.ColumnNames(); !reflect.DeepEqual(got, []string{"pay_date", "total", "user_id", "value_prop"}) {
		t.Errorf("ColumnNames() = %v", got)
	}
	if tbl.NumRows() != 3 {
		t.Errorf("NumRows() = %d, want 3", tbl.NumRows())
	}

	tests := []struct {
		name string
		kind table.Kind
		row  int
		want any
	}{
		{"pay_date", table.KindString, 0, "2023-06-01"},
		{"total", table.KindFloat, 1, float64(7)},
		{"total", table.KindFloat, 2, nil},
		{"user_id", table.KindInt, 2, int64(3)},
		{"value_prop", table.KindString, 1, nil},
	}
	for _, tt := range tests {
		c := column(t, tbl, tt.name)
		if c.Kind != tt.kind {
			t.Errorf("%s kind = %v, want %v", tt.name, c.Kind, tt.kind)
		}
		if c.Values[tt.row] != tt.want {
			t.Errorf("%s[%d] = %#v, want %#v", tt.name, tt.row, c.Values[tt.row], tt.want)
		}
	}
}

func TestCSVModule_Delimiter(t *testing.T) {
	path := writeFile(t, "x.csv", "a;b\ntrue;x\nFALSE;y\n")
	m, err := NewCSVModule(path, ";")
	if err != nil {
		t.Fatal(err)
	}
	tbl, err := m.Read(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	a := column(t, tbl, "a")
	if a.Kind != table.KindBool || a.Values[1] != false {
		t.Errorf("a = %v (%v)", a.Values, a.Kind)
	}

	if _, err := NewCSVModule(path, ";;"); err == nil {
		t.Error("NewCSVModule() should reject multi-character delimiters")
	}
}

func TestCSVModule_Errors(t *testing.T) {
	m, _ := NewCSVModule(filepath.Join(t.TempDir(), "missing.csv"), "")
	if _, err := m.Read(context.Background()); !errors.Is(err, ErrSourceNotFound) {
		t.Errorf("Read() error = %v, want ErrSourceNotFound", err)
	}

	ragged := writeFile(t, "bad.csv", "a,b\n1\n")
	m, _ = NewCSVModule(ragged, "")
	if _, err := m.Read(context.Background()); !errors.Is(err, ErrMalformedSource) {
		t.Errorf("Read() error = %v, want ErrMalformedSource", err)
	}

	empty := writeFile(t, "empty.csv", "")
	m, _ = NewCSVModule(empty, "")
	tbl, err := m.Read(context.Background())
	if err != nil || tbl.NumCols() != 0 {
		t.Errorf("Read(empty) = %v, %v", tbl, err)
	}
}

func TestJSONModule_Lines(t *testing.T) {
	path := writeFile(t, "prints.json",
		`{"day":"2023-06-20","event_data":{"position":0,"value_prop":"cellphone"},"user_id":98702}`+"\n"+
			"\n"+
			`{"day":"2023-06-21","event_data":{"position":1,"value_prop":"prepaid"},"user_id":63252}`+"\n")

	for _, m := range []*JSONModule{NewJSONModule(path), NewJSONLinesModule(path)} {
		tbl, err := m.Read(context.Background())
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if got := tbl.ColumnNames(); !reflect.DeepEqual(got, []string{"day", "event_data", "user_id"}) {
			t.Errorf("ColumnNames() = %v", got)
		}
		ev := column(t, tbl, "event_data")
		if ev.Kind != table.KindMap {
			t.Errorf("event_data kind = %v, want map", ev.Kind)
		}
		nested := ev.Values[1].(map[string]any)
		if nested["position"] != int64(1) {
			t.Errorf("position = %#v, want int64(1)", nested["position"])
		}
		uid := column(t, tbl, "user_id")
		if uid.Kind != table.KindInt || uid.Values[0] != int64(98702) {
			t.Errorf("user_id = %v (%v)", uid.Values, uid.Kind)
		}
	}
}

func TestJSONModule_Array(t *testing.T) {
	path := writeFile(t, "taps.json", `[{"user_id": 1, "x": 1.5}, {"user_id": 2}]`)
	tbl, err := NewJSONModule(path).Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if tbl.NumRows() != 2 {
		t.Errorf("NumRows() = %d, want 2", tbl.NumRows())
	}
	if x := column(t, tbl, "x"); x.Values[1] != nil {
		t.Errorf("missing key should be null, got %v", x.Values[1])
	}
}

func TestJSONModule_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    error
	}{
		{"not an object", "[1, 2]", ErrMalformedSource},
		{"bad line", "{\"a\":1}\n{oops\n", ErrMalformedSource},
		{"scalar line", "{\"a\":1}\n42\n", ErrMalformedSource},
		{"conflicting kinds", "{\"a\":{\"b\":1}}\n{\"a\":\"s\"}\n", ErrMalformedSource},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "in.json", tt.content)
			if _, err := NewJSONModule(path).Read(context.Background()); !errors.Is(err, tt.want) {
				t.Errorf("Read() error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := NewJSONModule(filepath.Join(t.TempDir(), "missing.json")).Read(context.Background()); !errors.Is(err, ErrSourceNotFound) {
		t.Errorf("Read() error = %v, want ErrSourceNotFound", err)
	}
}
