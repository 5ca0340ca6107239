package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SuiteResult is the outcome of one scenario file in a suite run.
type SuiteResult struct {
	Path   string  `json:"path"`
	Name   string  `json:"name"`
	Result *Result `json:"result,omitempty"`
	Err    string  `json:"error,omitempty"`
}

// Passed reports whether the scenario ran and passed.
func (r SuiteResult) Passed() bool {
	return r.Err == "" && r.Result != nil && r.Result.Pass
}

// ScenarioFiles returns the .yaml and .yml files directly under dir, sorted.
func ScenarioFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// RunPaths runs every scenario at paths. A scenario that fails to load or
// run is reported in its SuiteResult rather than stopping the suite.
func RunPaths(ctx context.Context, paths []string) []SuiteResult {
	out := make([]SuiteResult, 0, len(paths))
	for _, p := range paths {
		sr := SuiteResult{Path: p}
		sc, err := LoadScenario(p)
		if err != nil {
			sr.Err = err.Error()
			out = append(out, sr)
			continue
		}
		sr.Name = sc.Name
		if sr.Result, err = Run(ctx, sc); err != nil {
			sr.Err = err.Error()
		}
		out = append(out, sr)
	}
	return out
}
