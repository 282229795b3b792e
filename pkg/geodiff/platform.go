package geodiff

import (
	"encoding/json"
	"os"
	"runtime"

	"github.com/lutraconsulting/gdbsync/pkg/syncerr"
)

func defaultExecutableName() string {
	if runtime.GOOS == "windows" {
		return "geodiff.exe"
	}
	return "geodiff"
}

// readSummary parses the JSON array geodiff's "as-summary" command writes:
// [{"table": "...", "insert": 0, "update": 0, "delete": 0}, ...]
func readSummary(path string) ([]TableSummary, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, syncerr.WrapDiffTool(err, "reading changeset summary")
	}
	var wrapper struct {
		Geodiff []TableSummary `json:"geodiff"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Geodiff != nil {
		return wrapper.Geodiff, nil
	}
	var flat []TableSummary
	if err := json.Unmarshal(body, &flat); err != nil {
		return nil, syncerr.WrapDiffTool(err, "parsing changeset summary %q", path)
	}
	return flat, nil
}
