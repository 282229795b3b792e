// Package geodifftest provides an in-memory geodiff.Tool fake for exercising
// pkg/sync without shelling out to the real binary.
package geodifftest

import (
	"context"
	"os"
	"sync"

	"github.com/lutraconsulting/gdbsync/pkg/geodiff"
	"github.com/lutraconsulting/gdbsync/pkg/syncerr"
)

// Call records one invocation made against the fake, for assertions.
type Call struct {
	Op         string
	Base       string
	Modified   string
	Target     string
	Changeset  string
	SkipTables []string
}

// Fake is a scriptable geodiff.Tool. Tests preload Empty and Summaries
// (keyed by the changeset path they expect a Diff/DiffCrossDriver call to
// produce) and FailOn to drive specific scenarios.
type Fake struct {
	mu sync.Mutex

	Calls []Call

	// Empty marks changeset paths that IsEmpty should report as empty.
	// Any path not listed is treated as non-empty.
	Empty map[string]bool

	// Summaries maps a changeset path to the summary Summary() returns.
	Summaries map[string][]geodiff.TableSummary

	// FailOn maps an operation name ("diff", "apply", "rebase", "copy") to
	// an error that call should return.
	FailOn map[string]error
}

func New() *Fake {
	return &Fake{
		Empty:     map[string]bool{},
		Summaries: map[string][]geodiff.TableSummary{},
		FailOn:    map[string]error{},
	}
}

func (f *Fake) record(c Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, c)
}

func touch(path string) error {
	if path == "" {
		return nil
	}
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return syncerr.WrapDiffTool(err, "fake: creating changeset %q", path)
	}
	return fh.Close()
}

func (f *Fake) Diff(_ context.Context, _, _, base, modified, changesetPath string, skip []string) error {
	f.record(Call{Op: "diff", Base: base, Modified: modified, Changeset: changesetPath, SkipTables: skip})
	if err := f.FailOn["diff"]; err != nil {
		return err
	}
	return touch(changesetPath)
}

func (f *Fake) DiffCrossDriver(_ context.Context, src, dst geodiff.Dataset, changesetPath string, skip []string) error {
	f.record(Call{Op: "diff-cross", Base: src.Path, Modified: dst.Path, Changeset: changesetPath, SkipTables: skip})
	if err := f.FailOn["diff"]; err != nil {
		return err
	}
	return touch(changesetPath)
}

func (f *Fake) Apply(_ context.Context, _, _, target, changesetPath string, skip []string) error {
	f.record(Call{Op: "apply", Target: target, Changeset: changesetPath, SkipTables: skip})
	return f.FailOn["apply"]
}

func (f *Fake) Rebase(_ context.Context, _, _, base, our, base2their, conflictsPath string, skip []string) error {
	f.record(Call{Op: "rebase", Base: base, Target: our, Changeset: base2their, SkipTables: skip})
	if err := f.FailOn["rebase"]; err != nil {
		return err
	}
	return touch(conflictsPath)
}

func (f *Fake) Copy(_ context.Context, src, dst geodiff.Dataset, skip []string) error {
	f.record(Call{Op: "copy", Base: src.Path, Target: dst.Path, SkipTables: skip})
	return f.FailOn["copy"]
}

func (f *Fake) Summary(_ context.Context, changesetPath string) ([]geodiff.TableSummary, error) {
	f.record(Call{Op: "summary", Changeset: changesetPath})
	if s, ok := f.Summaries[changesetPath]; ok {
		return s, nil
	}
	return nil, nil
}

func (f *Fake) AsJSON(_ context.Context, changesetPath string) ([]byte, error) {
	f.record(Call{Op: "as-json", Changeset: changesetPath})
	return []byte("[]"), nil
}

func (f *Fake) IsEmpty(changesetPath string) (bool, error) {
	return f.Empty[changesetPath], nil
}

var _ geodiff.Tool = (*Fake)(nil)
