package drw

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ReadPosteriorSamples parses the "# N" header followed by N
// whitespace-separated rows that [Sampler.Run] writes.
func ReadPosteriorSamples(path string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("drw: open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return nil, fmt.Errorf("drw: %s is empty", path)
	}
	header := strings.TrimSpace(sc.Text())
	header = strings.TrimPrefix(header, "#")
	n, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil {
		return nil, fmt.Errorf("drw: %s: invalid header %q: %w", path, sc.Text(), err)
	}

	out := make([][]float64, 0, n)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		row := make([]float64, len(fields))
		for i, tok := range fields {
			v, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return nil, fmt.Errorf("drw: %s: parse row %d: %w", path, len(out), err)
			}
			row[i] = v
		}
		out = append(out, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("drw: %s: %w", path, err)
	}
	if len(out) != n {
		return nil, fmt.Errorf("drw: %s: header declares %d rows, found %d", path, n, len(out))
	}
	return out, nil
}

// PosteriorMean returns the coordinatewise mean of a sample set, as used
// to pick the single theta that drives [Model.Reconstruct].
func PosteriorMean(samples [][]float64) []float64 {
	if len(samples) == 0 {
		return nil
	}
	mean := make([]float64, len(samples[0]))
	for _, row := range samples {
		for i, v := range row {
			mean[i] += v
		}
	}
	for i := range mean {
		mean[i] /= float64(len(samples))
	}
	return mean
}
