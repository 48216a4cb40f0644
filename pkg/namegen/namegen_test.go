package namegen

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetUniqueNameIncrements(t *testing.T) {
	dir := t.TempDir()
	g, err := New(dir, "recv-", ".bin")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	first, err := g.GetUniqueName()
	if err != nil {
		t.Fatalf("GetUniqueName: %v", err)
	}
	if first != "recv-0.bin" {
		t.Fatalf("first = %q, want recv-0.bin", first)
	}

	second, err := g.GetUniqueName()
	if err != nil {
		t.Fatalf("GetUniqueName: %v", err)
	}
	if second != "recv-1.bin" {
		t.Fatalf("second = %q, want recv-1.bin", second)
	}
}

func TestCounterSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	g1, err := New(dir, "", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := g1.GetUniqueName(); err != nil {
		t.Fatalf("GetUniqueName: %v", err)
	}
	if _, err := g1.GetUniqueName(); err != nil {
		t.Fatalf("GetUniqueName: %v", err)
	}

	g2, err := New(dir, "", "")
	if err != nil {
		t.Fatalf("New (reopen): %v", err)
	}
	name, err := g2.GetUniqueName()
	if err != nil {
		t.Fatalf("GetUniqueName (reopen): %v", err)
	}
	if name != "2" {
		t.Fatalf("name after reopen = %q, want 2", name)
	}
}

func TestIncrementDecimalASCIICarry(t *testing.T) {
	cases := map[string]string{
		"0":   "1",
		"9":   "10",
		"19":  "20",
		"99":  "100",
		"999": "1000",
	}
	for in, want := range cases {
		got := incrementDecimalASCII(in)
		if got != want {
			t.Fatalf("incrementDecimalASCII(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCounterFileIsHidden(t *testing.T) {
	dir := t.TempDir()
	if _, err := New(dir, "", ""); err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".counter.conf")); err != nil {
		t.Fatalf("counter file missing: %v", err)
	}
}
