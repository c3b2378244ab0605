package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the results file for a run: stats.json for the parent run,
// stats_<id>.json for child runs.
func FileName(runID int) string {
	if runID == 0 {
		return "stats.json"
	}
	return fmt.Sprintf("stats_%d.json", runID)
}

// WriteFile writes doc as indented JSON into dir and returns the path.
func WriteFile(dir string, runID int, doc Document) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create results dir: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode stats: %w", err)
	}
	path := filepath.Join(dir, FileName(runID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write stats: %w", err)
	}
	return path, nil
}
