package pixon

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteAllProducesExpectedFiles(t *testing.T) {
	cont := syntheticContinuum(100, 1)
	line := deltaLineFromContinuum(cont, 5, 1)
	cfg := testConfig()

	basis, _ := NewBasis(cfg.Basis)
	e, err := NewEngine(cfg, basis, cont, line)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	x := e.InitialParams()
	if err := e.Compute(x); err != nil {
		t.Fatalf("Compute: %v", err)
	}

	dir := t.TempDir()
	set := NewOutputSet(dir, "pixon", cfg.Basis.String(), cfg.PixonUniform)
	if err := WriteAll(set, e, x, 1.0); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	for _, path := range []string{set.Response, set.Line, set.LineFull, set.Cont, set.PixonMap} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected output file %s: %v", path, err)
		}
	}
	wantResp := filepath.Join(dir, "resp_pixon.txt_gaussian")
	if set.Response != wantResp {
		t.Errorf("Response path = %s, want %s", set.Response, wantResp)
	}
}

func TestNewOutputSetUniformSuffix(t *testing.T) {
	set := NewOutputSet("data", "pixon", "gaussian", true)
	if filepath.Base(set.Response) != "resp_pixon_uniform.txt_gaussian" {
		t.Errorf("Response = %s, want resp_pixon_uniform.txt_gaussian suffix", set.Response)
	}
	if filepath.Base(set.Line) != "line_pixon.txt_gaussian" {
		t.Errorf("Line = %s, want no _uniform suffix", set.Line)
	}
}
