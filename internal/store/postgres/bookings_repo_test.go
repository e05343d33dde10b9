package postgres

import (
	"strings"
	"testing"
)

func TestLockOrder(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want string
	}{
		{name: "sorted", in: []string{"b", "a", "c"}, want: "a,b,c"},
		{name: "dedup", in: []string{"u2", "u1", "u2"}, want: "u1,u2"},
		{name: "empty", in: nil, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Join(lockOrder(tt.in), ",")
			if got != tt.want {
				t.Fatalf("lockOrder(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtractGooseUp(t *testing.T) {
	sql := "-- +goose Up\nCREATE TABLE a (id int);\n-- +goose Down\nDROP TABLE a;\n"
	got, err := extractGooseUp(sql)
	if err != nil {
		t.Fatalf("extractGooseUp error: %v", err)
	}
	if got != "CREATE TABLE a (id int);" {
		t.Fatalf("up = %q", got)
	}

	if _, err := extractGooseUp("CREATE TABLE a (id int);"); err == nil {
		t.Fatalf("expected error for missing marker")
	}
}

func TestNormalizeExtensionStatement(t *testing.T) {
	got, ok := normalizeExtensionStatement("CREATE EXTENSION IF NOT EXISTS btree_gist")
	if !ok || got != "CREATE EXTENSION IF NOT EXISTS btree_gist SCHEMA public" {
		t.Fatalf("normalize = %q, %v", got, ok)
	}
	if _, ok := normalizeExtensionStatement("CREATE TABLE x (id int)"); ok {
		t.Fatalf("expected non-extension statement to be left alone")
	}
}
