package extract

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/corpora-io/corpora/internal/logger"
)

// serveRequest and serveResponse are the wire messages of serve mode: one
// JSON object per line in each direction.
type serveRequest struct {
	Path      string   `json:"path"`
	Mode      Mode     `json:"mode"`
	Languages []string `json:"languages,omitempty"`
}

type serveResponse struct {
	Elements []json.RawMessage `json:"elements"`
	Error    string            `json:"error,omitempty"`
}

// ProcessEngine keeps one resident partitioner subprocess in serve mode
// (started with --serve) and exchanges one request/response line pair per
// document. A request whose deadline fires kills the subprocess out-of-band;
// the next request respawns it. Not safe for concurrent use: every worker
// owns its own engine.
type ProcessEngine struct {
	command string
	args    []string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	stderr *stderrTail
}

var _ Engine = (*ProcessEngine)(nil)

func NewProcessEngine(command string, args ...string) *ProcessEngine {
	return &ProcessEngine{command: command, args: args}
}

func (e *ProcessEngine) Partition(ctx context.Context, req Request) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureStarted(); err != nil {
		return nil, &EngineError{Mode: req.Mode, Err: err}
	}

	msg, err := json.Marshal(serveRequest{Path: req.Path, Mode: req.Mode, Languages: req.Languages})
	if err != nil {
		return nil, &EngineError{Mode: req.Mode, Err: err}
	}
	if _, err := e.stdin.Write(append(msg, '\n')); err != nil {
		stderr := e.stderr.String()
		e.kill()
		return nil, &EngineError{Mode: req.Mode, Err: fmt.Errorf("failed to send request: %w", err), Stderr: stderr}
	}

	type outcome struct {
		line []byte
		err  error
	}
	// Capture the reader: kill() drops the field while the goroutine may
	// still be blocked on the pipe.
	stdout := e.stdout
	ch := make(chan outcome, 1)
	go func() {
		line, err := stdout.ReadBytes('\n')
		ch <- outcome{line, err}
	}()

	select {
	case <-ctx.Done():
		// The engine may be stuck in native code; kill it and let the
		// next request respawn.
		e.kill()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Mode: req.Mode}
		}
		return nil, ctx.Err()

	case out := <-ch:
		if out.err != nil {
			stderr := e.stderr.String()
			e.kill()
			return nil, &EngineError{Mode: req.Mode, Err: fmt.Errorf("engine exited mid-request: %w", out.err), Stderr: stderr}
		}

		var resp serveResponse
		if err := json.Unmarshal(out.line, &resp); err != nil {
			stderr := e.stderr.String()
			e.kill()
			return nil, &EngineError{Mode: req.Mode, Err: fmt.Errorf("invalid serve response: %w", err), Stderr: stderr}
		}
		if resp.Error != "" {
			return nil, &EngineError{Mode: req.Mode, Err: errors.New(resp.Error)}
		}

		result, err := parseResult(resp.Elements)
		if err != nil {
			return nil, &EngineError{Mode: req.Mode, Err: err}
		}
		return result, nil
	}
}

// Close stops the resident subprocess: closing stdin asks for a clean exit,
// and the process is killed if it is still around after the grace period.
func (e *ProcessEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cmd == nil {
		return nil
	}
	defer e.reset()

	e.stdin.Close()
	done := make(chan error, 1)
	go func() { done <- e.cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(killGrace):
		logger.Debug("resident partitioner ignored shutdown, killing",
			"pid", e.cmd.Process.Pid)
		e.cmd.Process.Kill()
		<-done
	}
	return nil
}

func (e *ProcessEngine) ensureStarted() error {
	if e.cmd != nil {
		return nil
	}

	argv := append(append([]string{}, e.args...), "--serve")
	cmd := exec.Command(e.command, argv...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr := newStderrTail(stderrLimit)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start partitioner %q: %w", e.command, err)
	}
	logger.Debug("resident partitioner started", "command", e.command, "pid", cmd.Process.Pid)

	e.cmd = cmd
	e.stdin = stdin
	e.stdout = bufio.NewReader(stdout)
	e.stderr = stderr
	return nil
}

// kill tears the resident process down hard and reaps it. Callers hold the
// mutex.
func (e *ProcessEngine) kill() {
	if e.cmd == nil {
		return
	}
	e.stdin.Close()
	e.cmd.Process.Kill()
	e.cmd.Wait()
	e.reset()
}

func (e *ProcessEngine) reset() {
	e.cmd = nil
	e.stdin = nil
	e.stdout = nil
	e.stderr = nil
}
