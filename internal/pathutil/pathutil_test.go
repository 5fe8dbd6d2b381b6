package pathutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateFilePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"empty", "", true},
		{"null byte", "a\x00b", true},
		{"simple segment", "..", true},
		{"leading segment", "../foo", true},
		{"middle segment", "data/../etc", true},
		{"valid relative", "data/external", false},
		{"valid absolute", "/var/lib/stagepipe/raw", false},
		{"single segment", "config.yaml", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFilePath(%q) err = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"plain", "pays.csv", false},
		{"staged", "021_prints.parquet.gzip", false},
		{"empty", "", true},
		{"slash", "raw/pays", true},
		{"backslash", `raw\pays`, true},
		{"dot", ".", true},
		{"dotdot", "..", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
		})
	}
}

func TestJoinName(t *testing.T) {
	got, err := JoinName("data/raw", "pays.parquet.gzip")
	if err != nil {
		t.Fatalf("JoinName() error = %v", err)
	}
	if want := filepath.Join("data", "raw", "pays.parquet.gzip"); got != want {
		t.Errorf("JoinName() = %q, want %q", got, want)
	}
	if _, err := JoinName("data/raw", "../x"); err == nil {
		t.Error("JoinName() should reject traversal")
	}
}

func TestEnsureDir(t *testing.T) {
	root := t.TempDir()

	nested := filepath.Join(root, "data", "staging")
	if err := EnsureDir(nested); err != nil {
		t.Fatalf("EnsureDir() error = %v", err)
	}
	if info, err := os.Stat(nested); err != nil || !info.IsDir() {
		t.Fatalf("expected directory at %s", nested)
	}

	file := filepath.Join(root, "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := EnsureDir(file); err == nil {
		t.Error("EnsureDir() on a file should fail")
	}
	if err := EnsureDir(""); err == nil {
		t.Error("EnsureDir(\"\") should fail")
	}
}
