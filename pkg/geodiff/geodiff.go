// Package geodiff wraps the external structured-diff binary ("geodiff")
// that creates, applies, lists and copies changesets between SQLite/GPKG and
// PostGIS datasets. The wrapper is the only place that knows the binary's
// argv grammar; callers deal only in the logical operations below.
package geodiff

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/lutraconsulting/gdbsync/pkg/syncerr"
)

// Tool is the logical interface the reconciliation core programs against.
// All operations honor SkipTables uniformly (spec.md invariant I6).
type Tool interface {
	// Diff computes base -> modified on a single driver/connection and
	// writes the resulting changeset to changesetPath.
	Diff(ctx context.Context, driver, connInfo, base, modified, changesetPath string, skipTables []string) error
	// DiffCrossDriver computes src -> dst across two (possibly different)
	// drivers/connections.
	DiffCrossDriver(ctx context.Context, src, dst Dataset, changesetPath string, skipTables []string) error
	// Apply mutates target by replaying changesetPath on it.
	Apply(ctx context.Context, driver, connInfo, target, changesetPath string, skipTables []string) error
	// Rebase rewrites our in place to be "their 2changes, plus our
	// changes reapplied", recording unresolved conflicts to conflictsPath.
	Rebase(ctx context.Context, driver, connInfo, base, our, base2their, conflictsPath string, skipTables []string) error
	// Copy materializes dst from src, across drivers if needed.
	Copy(ctx context.Context, src, dst Dataset, skipTables []string) error
	// Summary returns the per-table insert/update/delete counts for a changeset.
	Summary(ctx context.Context, changesetPath string) ([]TableSummary, error)
	// AsJSON returns a detailed row-level JSON view of a changeset, for diagnostics only.
	AsJSON(ctx context.Context, changesetPath string) ([]byte, error)
	// IsEmpty reports whether a changeset file represents no changes.
	IsEmpty(changesetPath string) (bool, error)
}

// Dataset names one side of a cross-driver diff/copy operation.
type Dataset struct {
	Driver   string
	ConnInfo string // "" for the sqlite driver, where Path is the file
	Path     string // schema name (RDB datasets) or file path (sqlite)
}

// TableSummary is one row of geodiff's per-table changeset summary.
type TableSummary struct {
	Table  string `json:"table"`
	Insert int    `json:"insert"`
	Update int    `json:"update"`
	Delete int    `json:"delete"`
}

// DriverSQLite is the pseudo-driver geodiff uses for plain GPKG/SQLite files.
const DriverSQLite = "sqlite"

// Binary is a Tool implementation that shells out to the geodiff
// executable. The subprocess inherits the engine's lifetime and has no
// per-call timeout (spec.md §5): a stuck geodiff process stalls the
// connection it belongs to, same as the original implementation.
type Binary struct {
	// Path to the geodiff executable. Defaults to "geodiff" (or
	// "geodiff.exe" on Windows) if empty.
	Path string
	// Verbosity is the numeric geodiff logging level (0-4), set via the
	// GEODIFF_LOGGER_LEVEL environment variable for every invocation.
	Verbosity int
}

func (b *Binary) exe() string {
	if b.Path != "" {
		return b.Path
	}
	return defaultExecutableName()
}

// Locate runs "geodiff help" once to fail fast with a ConfigError if the
// executable cannot be found or executed, mirroring config.py's
// validate_config subprocess probe.
func (b *Binary) Locate(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, b.exe(), "help")
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.Error); ok {
			return syncerr.Configf(
				"geodiff executable %q not found; is it installed and on PATH?", b.exe())
		}
		// "help" may legitimately exit non-zero on some builds; what
		// matters is that the binary itself was found and ran.
	}
	return nil
}

func (b *Binary) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, b.exe(), args...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("GEODIFF_LOGGER_LEVEL=%d", b.Verbosity))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		return syncerr.WrapDiffTool(err, "geodiff %s failed: %s",
			strings.Join(args, " "), strings.TrimSpace(stderr.String()))
	}
	return nil
}

func skipArgs(skipTables []string) []string {
	if len(skipTables) == 0 {
		return nil
	}
	return []string{"--skip-tables", strings.Join(skipTables, ";")}
}

func (b *Binary) Diff(ctx context.Context, driver, connInfo, base, modified, changesetPath string, skipTables []string) error {
	args := append([]string{"diff", "--driver", driver, connInfo}, skipArgs(skipTables)...)
	args = append(args, base, modified, changesetPath)
	return b.run(ctx, args...)
}

func (b *Binary) DiffCrossDriver(ctx context.Context, src, dst Dataset, changesetPath string, skipTables []string) error {
	args := []string{
		"diff",
		"--driver-1", src.Driver, src.ConnInfo,
		"--driver-2", dst.Driver, dst.ConnInfo,
	}
	args = append(args, skipArgs(skipTables)...)
	args = append(args, src.Path, dst.Path, changesetPath)
	return b.run(ctx, args...)
}

func (b *Binary) Apply(ctx context.Context, driver, connInfo, target, changesetPath string, skipTables []string) error {
	args := append([]string{"apply", "--driver", driver, connInfo}, skipArgs(skipTables)...)
	args = append(args, target, changesetPath)
	return b.run(ctx, args...)
}

func (b *Binary) Rebase(ctx context.Context, driver, connInfo, base, our, base2their, conflictsPath string, skipTables []string) error {
	args := append([]string{"rebase-db", "--driver", driver, connInfo}, skipArgs(skipTables)...)
	args = append(args, base, our, base2their, conflictsPath)
	return b.run(ctx, args...)
}

func (b *Binary) Copy(ctx context.Context, src, dst Dataset, skipTables []string) error {
	args := []string{
		"copy",
		"--driver-1", src.Driver, src.ConnInfo,
		"--driver-2", dst.Driver, dst.ConnInfo,
	}
	args = append(args, skipArgs(skipTables)...)
	args = append(args, src.Path, dst.Path)
	return b.run(ctx, args...)
}

func (b *Binary) Summary(ctx context.Context, changesetPath string) ([]TableSummary, error) {
	out, err := os.CreateTemp("", "geodiff-summary-*.json")
	if err != nil {
		return nil, syncerr.WrapDiffTool(err, "creating temp file for changeset summary")
	}
	defer os.Remove(out.Name())
	out.Close()

	if err := b.run(ctx, "as-summary", changesetPath, out.Name()); err != nil {
		return nil, err
	}
	return readSummary(out.Name())
}

func (b *Binary) AsJSON(ctx context.Context, changesetPath string) ([]byte, error) {
	out, err := os.CreateTemp("", "geodiff-json-*.json")
	if err != nil {
		return nil, syncerr.WrapDiffTool(err, "creating temp file for changeset detail")
	}
	defer os.Remove(out.Name())
	out.Close()

	if err := b.run(ctx, "as-json", changesetPath, out.Name()); err != nil {
		return nil, err
	}
	return os.ReadFile(out.Name())
}

func (b *Binary) IsEmpty(changesetPath string) (bool, error) {
	info, err := os.Stat(changesetPath)
	if err != nil {
		return false, syncerr.WrapDiffTool(err, "stat changeset %q", changesetPath)
	}
	return info.Size() == 0, nil
}

var _ Tool = (*Binary)(nil)
