package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/nerrad567/divert-core/internal/catalog"
	"github.com/nerrad567/divert-core/internal/process"
)

// defaultPipBinary is used when no pip binary is configured.
const defaultPipBinary = "pip"

// Provisioner installs a team's requirements.txt once per folder.
//
// A successful install is cached for the lifetime of the process; a failed
// one is retried on the next run. Concurrent runs of the same folder wait
// for a single install.
type Provisioner struct {
	runner          *process.Runner
	pip             string
	gracefulTimeout time.Duration
	logger          Logger

	mu    sync.Mutex
	done  map[string]bool
	locks map[string]*sync.Mutex
}

// NewProvisioner creates a Provisioner that runs pip through runner.
func NewProvisioner(runner *process.Runner, pip string, gracefulTimeout time.Duration) *Provisioner {
	if pip == "" {
		pip = defaultPipBinary
	}
	return &Provisioner{
		runner:          runner,
		pip:             pip,
		gracefulTimeout: gracefulTimeout,
		logger:          noopLogger{},
		done:            make(map[string]bool),
		locks:           make(map[string]*sync.Mutex),
	}
}

// Ensure installs dir/requirements.txt unless it is absent or already
// installed by this process.
func (p *Provisioner) Ensure(ctx context.Context, dir string) error {
	manifest := filepath.Join(dir, catalog.DependencyManifest)
	if !fileExists(manifest) {
		return nil
	}

	lock := p.folderLock(dir)
	lock.Lock()
	defer lock.Unlock()

	if p.installed(dir) {
		return nil
	}

	p.logger.Info("installing team dependencies", "dir", dir, "manifest", manifest)
	res, err := p.runner.Run(ctx, process.Spec{
		Name:            "pip:" + filepath.Base(dir),
		Binary:          p.pip,
		Args:            []string{"install", "-r", manifest},
		WorkDir:         dir,
		GracefulTimeout: p.gracefulTimeout,
	})
	if err != nil {
		p.logger.Error("dependency installation failed", "dir", dir, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrProvisionFailed, filepath.Base(dir), err)
	}

	p.mu.Lock()
	p.done[dir] = true
	p.mu.Unlock()

	p.logger.Info("team dependencies installed", "dir", dir, "duration", res.Duration)
	return nil
}

func (p *Provisioner) installed(dir string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done[dir]
}

func (p *Provisioner) folderLock(dir string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[dir]
	if !ok {
		l = &sync.Mutex{}
		p.locks[dir] = l
	}
	return l
}
