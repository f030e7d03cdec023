package extract

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/corpora-io/corpora/internal/logger"
)

const (
	// stderrLimit bounds how much engine noise is kept per invocation.
	stderrLimit = 8 << 10

	// killGrace is how long a terminating engine gets before SIGKILL.
	killGrace = 3 * time.Second
)

// CommandEngine invokes the partitioner executable once per document:
//
//	<command> [args...] --input <path> --mode <fast|hi_res|auto> [--languages eng+hun]
//
// Elements arrive as JSONL on stdout; diagnostics on stderr are captured
// into a bounded tail and logged at debug level on failure, never
// inherited.
type CommandEngine struct {
	command string
	args    []string
}

var _ Engine = (*CommandEngine)(nil)

func NewCommandEngine(command string, args ...string) *CommandEngine {
	return &CommandEngine{command: command, args: args}
}

func (e *CommandEngine) Partition(ctx context.Context, req Request) (*Result, error) {
	argv := append([]string{}, e.args...)
	argv = append(argv, "--input", req.Path, "--mode", string(req.Mode))
	if req.Mode == ModeHiRes && len(req.Languages) > 0 {
		argv = append(argv, "--languages", LanguageTag(req.Languages))
	}

	var stdout bytes.Buffer
	stderr := newStderrTail(stderrLimit)

	cmd := exec.CommandContext(ctx, e.command, argv...)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	// Release the pipes even if the killed engine leaves children behind.
	cmd.WaitDelay = killGrace

	if err := cmd.Run(); err != nil {
		runErr := classifyRunError(ctx, req.Mode, err, stderr.String())
		logger.Debug("partitioner invocation failed",
			"mode", req.Mode, "path", req.Path, "error", runErr)
		return nil, runErr
	}

	result, err := parseResult(splitJSONL(stdout.Bytes()))
	if err != nil {
		return nil, &EngineError{Mode: req.Mode, Err: err, Stderr: stderr.String()}
	}
	return result, nil
}

// classifyRunError separates the hard-timeout kill from shutdown and from
// genuine engine failures.
func classifyRunError(ctx context.Context, mode Mode, err error, stderr string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Mode: mode}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &EngineError{Mode: mode, Err: err, Stderr: stderr}
}

// stderrTail keeps the most recent chunk of a diagnostics stream. The
// partitioning toolchain is noisy; only the tail is worth logging.
type stderrTail struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newStderrTail(max int) *stderrTail {
	return &stderrTail{max: max}
}

func (t *stderrTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *stderrTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
