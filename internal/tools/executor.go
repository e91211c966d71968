package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"discnorm/internal/services"
)

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onOutput func(string)) error
}

type commandExecutor struct{}

// outputTail is the number of trailing output lines kept for error messages.
const outputTail = 5

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onOutput func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: %s not found in PATH", services.ErrNotFound, binary)
		}
		return fmt.Errorf("start %s: %w", binary, err)
	}

	var (
		mu   sync.Mutex
		tail []string
		wg   sync.WaitGroup
	)
	scan := func(r io.Reader) {
		scanner := bufio.NewScanner(r)
		scanner.Split(scanLinesOrCR)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			mu.Lock()
			tail = append(tail, line)
			if len(tail) > outputTail {
				tail = tail[1:]
			}
			if onOutput != nil {
				onOutput(line)
			}
			mu.Unlock()
		}
	}
	wg.Go(func() { scan(stdout) })
	wg.Go(func() { scan(stderr) })
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s exceeded its time limit", services.ErrTimeout, binary)
			}
			return ctxErr
		}
		detail := strings.Join(tail, "; ")
		if detail == "" {
			return fmt.Errorf("%w: %s: %w", services.ErrExternalTool, binary, err)
		}
		return fmt.Errorf("%w: %s: %w: %s", services.ErrExternalTool, binary, err, detail)
	}
	return nil
}

// scanLinesOrCR splits on \n or \r so carriage-return progress output
// becomes separate lines.
func scanLinesOrCR(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
