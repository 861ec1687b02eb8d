package lightcurve

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestTextLoaderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cont.txt")

	d := &Data{
		Time:  []float64{0, 1, 2, 3},
		Flux:  []float64{1.5, 2.5, 1.0, 0.5},
		Error: []float64{0.1, 0.2, 0.1, 0.15},
	}
	if err := WriteText(path, d); err != nil {
		t.Fatalf("WriteText: %v", err)
	}

	got, err := (TextLoader{}).Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for i := range d.Time {
		if got.Time[i] != d.Time[i] || got.Flux[i] != d.Flux[i] || got.Error[i] != d.Error[i] {
			t.Fatalf("row %d mismatch: got %v %v %v", i, got.Time[i], got.Flux[i], got.Error[i])
		}
	}
}

func TestReadTextSkipsCommentsAndBlankLines(t *testing.T) {
	text := "# header\n\n0 1 0.1\n1 2 0.1\n"
	d, err := readText(strings.NewReader(text), "inline")
	if err != nil {
		t.Fatalf("readText: %v", err)
	}
	if d.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", d.Len())
	}
}

func TestReadTextRejectsMalformedRow(t *testing.T) {
	if _, err := readText(strings.NewReader("0 1\n"), "inline"); err == nil {
		t.Fatal("expected error for missing column")
	}
	if _, err := readText(strings.NewReader("x 1 0.1\n"), "inline"); err == nil {
		t.Fatal("expected error for non-numeric time")
	}
}
