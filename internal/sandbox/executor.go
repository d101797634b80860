package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Default wall-clock limits for worker processes.
const (
	DefaultTimeout = 12 * time.Second
	PreviewTimeout = 6 * time.Second
)

// WorkerArg is the argv[1] value that switches the server binary into
// worker mode.
const WorkerArg = "sandbox-worker"

// Executor runs sandbox jobs, each in a fresh worker process. The zero
// value is not usable; call NewExecutor.
type Executor struct {
	// Timeout bounds each worker's wall-clock time. The process is killed
	// when it elapses.
	Timeout time.Duration
	// Command is the worker argv. Defaults to re-invoking the current
	// binary with WorkerArg.
	Command []string
}

func NewExecutor(timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{Timeout: timeout}
}

// Execute statically validates the request in-process, then hands it to a
// fresh worker and collects the result. All failures come back as *Error;
// a worker that outlives the timeout is killed and reported with
// Timeout set.
func (ex *Executor) Execute(ctx context.Context, req *Request) (*Response, error) {
	// Reject bad code before paying for a process.
	if err := Validate(req.Source, req.Entrypoint, req.Mode); err != nil {
		return nil, err
	}

	argv := ex.Command
	if len(argv) == 0 {
		self, err := os.Executable()
		if err != nil {
			return nil, errf("locate worker binary: %v", err)
		}
		argv = []string{self, WorkerArg}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errf("encode request: %v", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, ex.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, &Error{
			Msg:     fmt.Sprintf("execution exceeded %s", ex.Timeout),
			Timeout: true,
		}
	}
	if runErr != nil {
		return nil, errf("worker process failed: %v (stderr: %s)", runErr, strip(stderr.String()))
	}

	var resp Response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, errf("decode worker response: %v", err)
	}
	if !resp.OK {
		return nil, &Error{Msg: resp.Error, Trace: resp.Trace}
	}
	return &resp, nil
}

func strip(s string) string {
	const limit = 512
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
