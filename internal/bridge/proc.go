package bridge

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Process is a running conversational subprocess. Output delivers raw stdout
// and stderr chunks as they arrive; the channel is closed when the process
// exits. Done is closed once the process has been reaped.
type Process interface {
	WriteLine(line string) error
	Output() <-chan string
	Done() <-chan struct{}
	Close() error
}

// Launcher spawns a fresh Process. The bridge calls it on first use and again
// whenever the previous process dies.
type Launcher interface {
	Launch(ctx context.Context) (Process, error)
}

// Command launches a real subprocess with stdin piped and stdout+stderr
// merged, the way an interactive CLI presents itself in a terminal.
type Command struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

func (c Command) Launch(ctx context.Context) (Process, error) {
	if strings.TrimSpace(c.Path) == "" {
		return nil, fmt.Errorf("bridge: empty command path")
	}
	path, err := exec.LookPath(c.Path)
	if err != nil {
		return nil, fmt.Errorf("bridge: command not found (%s): %w", c.Path, err)
	}

	cmd := exec.Command(path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	// A single pipe carries stdout and stderr so diagnostics interleave with
	// replies the way they would on a terminal.
	pr, pw, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, err
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = pr.Close()
		_ = pw.Close()
		return nil, err
	}
	_ = pw.Close()

	p := &execProcess{
		cmd:   cmd,
		stdin: stdin,
		out:   make(chan string, 64),
		done:  make(chan struct{}),
	}
	go p.readLoop(pr)
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()

	_ = ctx // launch is synchronous; lifetime is governed by Close
	return p, nil
}

type execProcess struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	out   chan string
	done  chan struct{}
}

func (p *execProcess) readLoop(r io.ReadCloser) {
	defer close(p.out)
	defer r.Close()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			select {
			case p.out <- chunk:
			case <-p.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (p *execProcess) WriteLine(line string) error {
	_, err := io.WriteString(p.stdin, line+"\n")
	return err
}

func (p *execProcess) Output() <-chan string { return p.out }

func (p *execProcess) Done() <-chan struct{} { return p.done }

// Close asks the process to exit and kills it after a short grace period.
func (p *execProcess) Close() error {
	_ = p.stdin.Close()
	if p.cmd.Process == nil {
		return nil
	}
	select {
	case <-p.done:
		return nil
	default:
	}

	_ = p.cmd.Process.Signal(os.Interrupt)
	select {
	case <-time.After(1200 * time.Millisecond):
		_ = p.cmd.Process.Kill()
		<-p.done
	case <-p.done:
	}
	return nil
}
