package pixon

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/cwbudde/algo-dsp/lightcurve"
)

// OutputSet is the fixed group of output files produced for one
// mode/basis/uniform combination, all rooted at the same directory.
type OutputSet struct {
	Response  string // resp_<mode>[_uniform].txt_<basis>
	Line      string // line_<mode>.txt_<basis>
	LineFull  string // line_<mode>_full.txt_<basis>
	Cont      string // cont_<mode>.txt_<basis>
	PixonMap  string // pixon_map_<mode>.txt_<basis>
}

// NewOutputSet builds the fixed filenames for one run under dir.
func NewOutputSet(dir, mode, basisName string, uniform bool) OutputSet {
	suffix := mode
	if uniform {
		suffix = mode + "_uniform"
	}
	return OutputSet{
		Response: filepath.Join(dir, fmt.Sprintf("resp_%s.txt_%s", suffix, basisName)),
		Line:     filepath.Join(dir, fmt.Sprintf("line_%s.txt_%s", mode, basisName)),
		LineFull: filepath.Join(dir, fmt.Sprintf("line_%s_full.txt_%s", mode, basisName)),
		Cont:     filepath.Join(dir, fmt.Sprintf("cont_%s.txt_%s", mode, basisName)),
		PixonMap: filepath.Join(dir, fmt.Sprintf("pixon_map_%s.txt_%s", mode, basisName)),
	}
}

// WriteResponse writes (tau, Psi(tau), exp(x)) rows, one per delay-grid pixel.
func WriteResponse(path string, e *Engine, x []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("pixon: create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for j := 0; j < e.nTau; j++ {
		tau := float64(j-e.i0) * e.dt
		if _, err := fmt.Fprintf(w, "%.8e  %.8e  %.8e\n", tau, e.image[j], math.Exp(x[j])); err != nil {
			return fmt.Errorf("pixon: write %s: %w", path, err)
		}
	}
	return w.Flush()
}

// WriteLineObserved writes (t, ell_model*norm, residual) rows at the
// observed line sample times.
func WriteLineObserved(path string, e *Engine, norm float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("pixon: create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for k, t := range e.line.Time {
		if _, err := fmt.Fprintf(w, "%.8e  %.8e  %.8e\n", t, e.modelLine[k]*norm, e.residual[k]); err != nil {
			return fmt.Errorf("pixon: write %s: %w", path, err)
		}
	}
	return w.Flush()
}

// WriteLineFull writes the line model on the full continuum grid.
func WriteLineFull(path string, e *Engine) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("pixon: create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for i, t := range e.cont.Time {
		if _, err := fmt.Fprintf(w, "%.8e  %.8e\n", t, e.modelGrid[i]); err != nil {
			return fmt.Errorf("pixon: write %s: %w", path, err)
		}
	}
	return w.Flush()
}

// WriteContinuum writes the continuum grid as (t, flux, error) rows,
// reusing the lightcurve text format.
func WriteContinuum(path string, cont *lightcurve.Data) error {
	return lightcurve.WriteText(path, cont)
}

// WritePixonMap writes (pixel index, size-table index, pixon size) rows.
func WritePixonMap(path string, m *Map) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("pixon: create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for j := 0; j < m.Len(); j++ {
		idx := m.Index(j)
		if _, err := fmt.Fprintf(w, "%d  %d  %.8e\n", j, idx, m.Size(j)); err != nil {
			return fmt.Errorf("pixon: write %s: %w", path, err)
		}
	}
	return w.Flush()
}

// WriteAll writes every file in set for a plain Engine run.
func WriteAll(set OutputSet, e *Engine, x []float64, norm float64) error {
	if err := WriteResponse(set.Response, e, x); err != nil {
		return err
	}
	if err := WriteLineObserved(set.Line, e, norm); err != nil {
		return err
	}
	if err := WriteLineFull(set.LineFull, e); err != nil {
		return err
	}
	if err := WriteContinuum(set.Cont, e.cont); err != nil {
		return err
	}
	if err := WritePixonMap(set.PixonMap, e.pmap); err != nil {
		return err
	}
	return nil
}
