package agent

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/computesdk/sandbox-agent/internal/procattr"
)

// lineProcess runs an agent CLI speaking newline-delimited JSON on
// stdin/stdout. All shipped agent protocols (claude stream-json, codex
// app-server, gemini ACP) are NDJSON framed, so the adapters share this.
type lineProcess struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	scanner  *bufio.Scanner
	writeMu  sync.Mutex
	mu       sync.Mutex
	started  bool
	stopping bool
}

const scannerBufSize = 10 * 1024 * 1024 // agent messages can be large

func startLineProcess(path string, args []string, dir string, env []string) (*lineProcess, error) {
	cmd := exec.Command(path, args...)
	cmd.Env = append(os.Environ(), env...)
	if dir != "" {
		cmd.Dir = dir
	}
	procattr.Set(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("agent binary %q not found: %w", path, err)
		}
		return nil, fmt.Errorf("start agent process: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), scannerBufSize)

	return &lineProcess{
		cmd:     cmd,
		stdin:   stdin,
		scanner: scanner,
		started: true,
	}, nil
}

// WriteJSON marshals v and writes it as one line. Safe for concurrent use.
func (p *lineProcess) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_, err = p.stdin.Write(append(data, '\n'))
	return err
}

// ReadLine returns the next non-empty stdout line. io.EOF when the process
// closes its output.
func (p *lineProcess) ReadLine() ([]byte, error) {
	for p.scanner.Scan() {
		line := p.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)
		return out, nil
	}
	if err := p.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Stop closes stdin and waits briefly for a clean exit before killing the
// process group. Idempotent.
func (p *lineProcess) Stop() error {
	p.mu.Lock()
	if !p.started || p.stopping {
		p.mu.Unlock()
		return nil
	}
	p.stopping = true
	p.mu.Unlock()

	p.writeMu.Lock()
	p.stdin.Close()
	p.writeMu.Unlock()

	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
	}

	_ = procattr.SignalGroup(p.cmd.Process, syscall.SIGTERM)
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		_ = procattr.KillGroup(p.cmd.Process)
		return <-done
	}
}
