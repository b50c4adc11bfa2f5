//go:build linux

package processmgr

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// killGrace is how long Close waits after SIGTERM before SIGKILL.
const killGrace = 3 * time.Second

// Process is one supervised external command.
//
// Pipes:
//   - stdout and stdin are raw os.Pipe ends owned by the caller, so Wait never
//     closes them under a reader that has not drained the output yet.
//   - stderr is consumed line by line into the owner's log buffer.
//
// Lifecycle:
//
//	Start() → read Stdout() / write Stdin() → Close() or Finish() → <-Done()
//
// Close and Finish are idempotent and safe from any goroutine.
type Process struct {
	log    *zap.Logger
	logBuf *logBuffer

	cmd    *exec.Cmd
	stdout *os.File // read end, ours
	stdin  *os.File // write end, ours
	stderr io.ReadCloser

	// child ends, closed in the parent once the child holds them
	childOut *os.File
	childIn  *os.File

	// closed after the process is reaped
	done      chan struct{}
	exitErr   error
	startOnce sync.Once
	closeOnce sync.Once
	stdinOnce sync.Once

	started atomic.Bool
	pid     atomic.Int64

	// fired once after reap (slot release)
	onExit func()
}

// newProcess allocates the pipes and applies the Linux attributes:
//   - Setpgid: child gets its own process group so signals reach ffmpeg's children
//   - Pdeathsig: child receives SIGKILL if we die
func newProcess(log *zap.Logger, logBuf *logBuffer, env, argv []string) (*Process, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty argv")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	inR, inW, err := os.Pipe()
	if err != nil {
		_ = outR.Close()
		_ = outW.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stdin = inR

	stderr, err := cmd.StderrPipe()
	if err != nil {
		closeAll(outR, outW, inR, inW)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	return &Process{
		log:      log,
		logBuf:   logBuf,
		cmd:      cmd,
		stdout:   outR,
		stdin:    inW,
		stderr:   stderr,
		childOut: outW,
		childIn:  inR,
		done:     make(chan struct{}),
	}, nil
}

// Start launches the command once. On failure every pipe is closed.
func (p *Process) Start() error {
	err := errors.New("process already started")
	p.startOnce.Do(func() {
		if err = p.cmd.Start(); err != nil {
			closeAll(p.stdout, p.stdin, p.childOut, p.childIn)
			close(p.done)
			err = fmt.Errorf("start %s: %w", p.cmd.Path, err)
			return
		}

		// the child owns its ends now; ours must go so EOF propagates
		closeAll(p.childOut, p.childIn)

		pid := p.cmd.Process.Pid
		p.pid.Store(int64(pid))
		p.started.Store(true)
		p.log.Debug("process started", zap.Int("cmd_pid", pid))
		go p.supervise()
	})
	return err
}

// supervise drains stderr, reaps the child and fires Done.
func (p *Process) supervise() {
	sc := bufio.NewScanner(p.stderr)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		p.logBuf.Append(sc.Text())
	}
	if err := sc.Err(); err != nil {
		p.log.Warn("stderr scanner failure", zap.Error(err))
	}

	err := p.cmd.Wait()
	var eerr *exec.ExitError
	switch {
	case err == nil:
		p.log.Debug("process exited cleanly")
	case errors.As(err, &eerr):
		status := eerr.ProcessState.Sys().(syscall.WaitStatus)
		p.log.Debug("process exited with error status",
			zap.Int("exit_code", status.ExitStatus()),
			zap.Bool("signaled", status.Signaled()))
	default:
		p.log.Warn("failed to wait for process", zap.Error(err))
	}
	p.exitErr = err

	p.closeStdin()
	if p.onExit != nil {
		p.onExit()
	}
	close(p.done)
}

// Stdout is the child's standard output.
func (p *Process) Stdout() io.Reader { return p.stdout }

// Stdin is the child's standard input.
func (p *Process) Stdin() io.Writer { return p.stdin }

// Done is closed after the process has been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// Err returns the wait result. Valid after Done.
func (p *Process) Err() error {
	<-p.done
	return p.exitErr
}

// PID returns the child pid, 0 before Start.
func (p *Process) PID() int { return int(p.pid.Load()) }

// Close tears the process down and blocks until it is reaped:
//   - closes stdin and our stdout end (a writer blocked on a full pipe gets EPIPE)
//   - SIGTERM to the process group
//   - SIGKILL after killGrace if still alive
func (p *Process) Close() {
	p.closeOnce.Do(func() {
		p.closeStdin()
		_ = p.stdout.Close()

		if !p.started.Load() {
			// never started: nothing to reap
			p.startOnce.Do(func() {
				closeAll(p.childOut, p.childIn)
				close(p.done)
			})
			return
		}
		select {
		case <-p.done:
			return
		default:
		}

		pid := int(p.pid.Load())
		if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
			p.log.Warn("SIGTERM failed", zap.Int("cmd_pid", pid), zap.Error(err))
		}

		timer := time.NewTimer(killGrace)
		defer timer.Stop()
		select {
		case <-p.done:
			return
		case <-timer.C:
			p.log.Warn("grace timeout expired; sending SIGKILL", zap.Int("cmd_pid", pid))
			if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
				p.log.Error("SIGKILL failed", zap.Int("cmd_pid", pid), zap.Error(err))
			}
		}
	})
	<-p.done
}

// Finish closes stdin and lets the child exit on its own (ffmpeg finalizes
// its output on EOF). Falls back to Close after grace.
func (p *Process) Finish(grace time.Duration) {
	p.closeStdin()
	if p.started.Load() {
		select {
		case <-p.done:
		case <-time.After(grace):
			p.log.Warn("process did not exit after stdin EOF", zap.Duration("grace", grace))
		}
	}
	p.Close()
}

func (p *Process) closeStdin() {
	p.stdinOnce.Do(func() { _ = p.stdin.Close() })
}

func closeAll(fs ...*os.File) {
	for _, f := range fs {
		if f != nil {
			_ = f.Close()
		}
	}
}
