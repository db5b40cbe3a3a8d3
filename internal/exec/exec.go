package exec

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"unicode/utf8"
)

// streamChunkSize bounds a single chunk handed to a Stream callback.
const streamChunkSize = 32 * 1024

// maxHeldEscape is the longest unterminated escape sequence held back at the
// end of a chunk.
const maxHeldEscape = 64

// ExecutionResult holds the outcome of a command execution.
type ExecutionResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Executor defines an interface for running external commands.
// This allows for mocking in tests.
type Executor interface {
	// Run executes the command in dir and buffers its output.
	Run(ctx context.Context, dir, command string, args ...string) (*ExecutionResult, error)

	// Stream executes the command in dir, passing combined stdout and stderr
	// to onOutput chunk by chunk as it is produced, and returns the exit code.
	Stream(ctx context.Context, dir string, onOutput func(string), command string, args ...string) (int, error)
}

// CommandExecutor is a concrete implementation of the Executor interface
// that runs actual commands on the host system.
type CommandExecutor struct{}

// NewCommandExecutor creates a new CommandExecutor.
func NewCommandExecutor() *CommandExecutor {
	return &CommandExecutor{}
}

// Run executes the given command and returns its result.
func (e *CommandExecutor) Run(ctx context.Context, dir, command string, args ...string) (*ExecutionResult, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &ExecutionResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
	}

	// cmd.Run() returns an error for non-zero exit codes, but we handle
	// the exit code explicitly. So, we only return other kinds of errors
	// (e.g., command not found).
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, err
		}
	}

	return result, nil
}

// Stream executes the given command, forwarding output as it arrives.
// A non-zero exit code is not an error.
func (e *CommandExecutor) Stream(ctx context.Context, dir string, onOutput func(string), command string, args ...string) (int, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = dir
	detach(cmd)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return -1, err
	}

	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close()
		waitErr <- err
	}()

	// Chunks end on a rune boundary and outside escape sequences; the held
	// tail is prepended to the next read and flushed at EOF.
	buf := make([]byte, streamChunkSize)
	held := 0
	for {
		n, err := pr.Read(buf[held:])
		data := buf[:held+n]
		held = 0
		if err == nil {
			held = incompleteTail(data)
		}
		if out := data[:len(data)-held]; len(out) > 0 && onOutput != nil {
			onOutput(string(out))
		}
		copy(buf, data[len(data)-held:])
		if err != nil {
			break
		}
	}

	err := <-waitErr
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return -1, err
		}
	}
	return cmd.ProcessState.ExitCode(), nil
}

// incompleteTail returns how many trailing bytes of b belong to an escape
// sequence or UTF-8 encoded rune that is not complete yet.
func incompleteTail(b []byte) int {
	if i := bytes.LastIndexByte(b, 0x1b); i >= 0 && len(b)-i <= maxHeldEscape && !escapeComplete(b[i:]) {
		return len(b) - i
	}
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return 0
			}
			return len(b) - i
		}
	}
	return 0
}

// escapeComplete reports whether seq, which starts with ESC, holds a whole
// escape sequence. OSC sequences are only recognised when BEL-terminated.
func escapeComplete(seq []byte) bool {
	if len(seq) < 2 {
		return false
	}
	switch seq[1] {
	case '[':
		for _, c := range seq[2:] {
			if c >= 0x40 && c <= 0x7e {
				return true
			}
		}
		return false
	case ']':
		return bytes.IndexByte(seq, 0x07) >= 0
	default:
		return true
	}
}
