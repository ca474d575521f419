package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/divert-core/internal/catalog"
	"github.com/nerrad567/divert-core/internal/infrastructure/config"
	"github.com/nerrad567/divert-core/internal/process"
)

// luaExt is the entry extension handled in-process.
const luaExt = "lua"

// Request is one team run.
type Request struct {
	// Folder is the team's catalog folder name.
	Folder string

	// Dir is the absolute path of the team folder.
	Dir string

	// Inputs are passed to run_crew.
	Inputs map[string]any
}

// Runner executes a team and returns its result.
type Runner interface {
	Run(ctx context.Context, req Request) (any, error)
}

// RunFunc is a team implemented in Go.
type RunFunc func(ctx context.Context, inputs map[string]any) (any, error)

// Logger is the logging interface used by the package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Dispatcher resolves a team's entry point and runs it.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Dispatcher struct {
	mu     sync.RWMutex
	static map[string]RunFunc

	interpreters map[string]string
	lua          *LuaRunner
	proc         *ProcessRunner
	provisioner  *Provisioner
	install      bool

	logger Logger
}

// NewDispatcher creates a Dispatcher from the agents configuration section.
func NewDispatcher(cfg config.AgentsConfig) *Dispatcher {
	runner := process.NewRunner()
	interpreters := make(map[string]string, len(cfg.Interpreters))
	for ext, bin := range cfg.Interpreters {
		if ext == luaExt || bin == "" {
			continue
		}
		interpreters[ext] = bin
	}

	graceful := time.Duration(cfg.GracefulTimeout) * time.Second
	return &Dispatcher{
		static:       make(map[string]RunFunc),
		interpreters: interpreters,
		lua:          NewLuaRunner(),
		proc: &ProcessRunner{
			runner:          runner,
			timeout:         time.Duration(cfg.Timeout) * time.Second,
			gracefulTimeout: graceful,
		},
		provisioner: NewProvisioner(runner, cfg.PipBinary, graceful),
		install:     cfg.InstallDependencies,
		logger:      noopLogger{},
	}
}

// SetLogger sets the logger for the dispatcher and the runners it owns.
func (d *Dispatcher) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	d.logger = logger
	d.proc.runner.SetLogger(logger)
	d.provisioner.logger = logger
	d.lua.logger = logger
}

// Register binds a Go implementation to a team folder. It takes
// precedence over any entry file in the folder.
func (d *Dispatcher) Register(folder string, fn RunFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.static[folder] = fn
}

// Run executes the team described by req.
func (d *Dispatcher) Run(ctx context.Context, req Request) (any, error) {
	d.mu.RLock()
	fn, ok := d.static[req.Folder]
	d.mu.RUnlock()
	if ok {
		d.logger.Debug("running registered team", "folder", req.Folder)
		return fn(ctx, req.Inputs)
	}

	base := filepath.Join(req.Dir, catalog.EntryBase(req.Folder))

	if path := base + "." + luaExt; fileExists(path) {
		d.logger.Debug("running lua team", "folder", req.Folder, "entry", path)
		return d.lua.Run(ctx, path, req.Inputs)
	}

	for _, ext := range d.extensions() {
		path := base + "." + ext
		if !fileExists(path) {
			continue
		}
		if d.install {
			if err := d.provisioner.Ensure(ctx, req.Dir); err != nil {
				return nil, err
			}
		}
		d.logger.Debug("running interpreted team", "folder", req.Folder, "entry", path)
		return d.proc.Run(ctx, d.interpreters[ext], ext, path, req)
	}

	return nil, fmt.Errorf("%w: %s has no %s.* entry file", ErrEntryNotFound, req.Folder, catalog.EntryBase(req.Folder))
}

// extensions returns the configured interpreter extensions in a stable order.
func (d *Dispatcher) extensions() []string {
	exts := make([]string, 0, len(d.interpreters))
	for ext := range d.interpreters {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
