// Package syncengine runs the configured external sync command.
//
// The command receives the canonical tree as JSON on stdin and prints a
// JSON array of remote change objects on stdout. Wire protocol, retries
// and credentials toward the remote store are the command's business;
// this adapter only frames the exchange.
package syncengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/marksync/marksync/internal/reconciler"
	"github.com/marksync/marksync/internal/tree"
)

// DefaultTimeout bounds one sync exchange when the config names none.
const DefaultTimeout = 60 * time.Second

// Runner executes the sync command. It implements reconciler.SyncEngine.
// A Runner with an empty command is valid and syncs nothing, so the
// daemon can run in local-only mode.
type Runner struct {
	command string
	args    []string
	timeout time.Duration
	logger  *log.Logger
}

// Config holds runner construction options.
type Config struct {
	// Command is the sync engine executable. Empty disables syncing.
	Command string

	// Args are passed to the command before the tree arrives on stdin.
	Args []string

	// Timeout bounds one invocation (default DefaultTimeout).
	Timeout time.Duration

	// Logger defaults to stderr with a [sync] prefix.
	Logger *log.Logger
}

// New returns a runner for the configured command.
func New(cfg Config) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Runner{
		command: cfg.Command,
		args:    cfg.Args,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

// Enabled reports whether a sync command is configured.
func (r *Runner) Enabled() bool {
	return r.command != ""
}

// ExecuteSync sends the canonical tree to the sync command and decodes
// the remote changes it answers with. An empty response means the remote
// store accepted the tree as is.
func (r *Runner) ExecuteSync(ctx context.Context, t *tree.Tree) ([]reconciler.RemoteChange, error) {
	if r.command == "" {
		return nil, nil
	}

	input, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode tree for sync: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.command, r.args...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("sync command %s: %w: %s", r.command, err, msg)
		}
		return nil, fmt.Errorf("sync command %s: %w", r.command, err)
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		r.logger.Printf("sync completed in %v, no remote changes", time.Since(start).Round(time.Millisecond))
		return nil, nil
	}

	changes, err := reconciler.DecodeRemoteChanges(out)
	if err != nil {
		return nil, fmt.Errorf("sync command %s: %w", r.command, err)
	}
	r.logger.Printf("sync completed in %v, %d remote change(s)", time.Since(start).Round(time.Millisecond), len(changes))
	return changes, nil
}

var _ reconciler.SyncEngine = (*Runner)(nil)
