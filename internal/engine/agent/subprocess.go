package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/nerrad567/divert-core/internal/catalog"
	"github.com/nerrad567/divert-core/internal/process"
)

// Environment passed to interpreted entry files.
const (
	envEntryFunction = "DIVERT_ENTRY_FUNCTION"
	envTeamFolder    = "DIVERT_TEAM_FOLDER"
)

// pythonBootstrap loads the entry module, calls run_crew(**inputs) with the
// JSON object read from stdin and prints the result as JSON.
const pythonBootstrap = `import importlib.util, json, os, sys
path = sys.argv[1]
fn_name = os.environ.get("DIVERT_ENTRY_FUNCTION", "run_crew")
spec = importlib.util.spec_from_file_location(os.path.splitext(os.path.basename(path))[0], path)
mod = importlib.util.module_from_spec(spec)
sys.path.insert(0, os.path.dirname(path))
spec.loader.exec_module(mod)
fn = getattr(mod, fn_name, None)
if fn is None:
    sys.stderr.write(fn_name + " not defined in " + path)
    sys.exit(3)
raw = sys.stdin.read()
inputs = json.loads(raw) if raw.strip() else {}
real_stdout = sys.stdout
sys.stdout = sys.stderr
result = fn(**inputs)
sys.stdout = real_stdout
json.dump(result, sys.stdout, default=str)
`

// missingFunctionExit is the bootstrap's exit status when run_crew is absent.
const missingFunctionExit = 3

// ProcessRunner runs an interpreted entry file as a child process.
type ProcessRunner struct {
	runner          *process.Runner
	timeout         time.Duration
	gracefulTimeout time.Duration
}

// Run executes entry with interpreter. Python entries go through a bootstrap
// that calls run_crew; other interpreters run the file directly and read
// DIVERT_ENTRY_FUNCTION from the environment.
//
// Stdout is decoded as JSON; output that is not JSON is returned as a
// trimmed string.
func (p *ProcessRunner) Run(ctx context.Context, interpreter, ext, entry string, req Request) (any, error) {
	payload, err := json.Marshal(nonNilInputs(req.Inputs))
	if err != nil {
		return nil, fmt.Errorf("encoding inputs for %s: %w", req.Folder, err)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	args := []string{entry}
	if ext == "py" {
		args = []string{"-c", pythonBootstrap, entry}
	}

	res, err := p.runner.Run(ctx, process.Spec{
		Name:    "team:" + req.Folder,
		Binary:  interpreter,
		Args:    args,
		WorkDir: filepath.Dir(entry),
		Env: []string{
			envEntryFunction + "=" + catalog.EntryFunction,
			envTeamFolder + "=" + req.Folder,
		},
		Stdin:           payload,
		GracefulTimeout: p.gracefulTimeout,
	})
	if err != nil {
		var exitErr *process.ExitError
		if ext == "py" && errors.As(err, &exitErr) && exitErr.Code == missingFunctionExit {
			return nil, fmt.Errorf("%w: %s", ErrEntryFunction, filepath.Base(entry))
		}
		return nil, fmt.Errorf("team %s: %w", req.Folder, err)
	}

	return decodeOutput(res.Stdout), nil
}

func decodeOutput(stdout []byte) any {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return string(trimmed)
	}
	return v
}

func nonNilInputs(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	return in
}
