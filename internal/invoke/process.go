package invoke

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	scxml "github.com/scxml-go/runtime"
	"github.com/scxml-go/runtime/internal/model"
)

// processInstance wraps a child process addressed via newline-delimited
// JSON events on stdin/stdout, the same pipe wiring the teacher's mcp
// package uses for its stdio transport, simplified from JSON-RPC framing
// down to one scxml.Event per line.
type processInstance struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	mu     sync.Mutex
	cancel context.CancelFunc
}

func (p *processInstance) Send(ctx context.Context, e *scxml.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("invoke/process: marshal event: %w", err)
	}
	if _, err := p.stdin.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("invoke/process: write to child: %w", err)
	}
	return nil
}

func (p *processInstance) Cancel(ctx context.Context) error {
	p.cancel()
	_ = p.stdin.Close()
	if p.cmd.Process != nil {
		return p.cmd.Process.Kill()
	}
	return nil
}

// ProcessStartFunc is the StartFunc for invoke type "process": src names
// the executable (plus whitespace-separated args), params are passed as
// environment variables PARAM_<NAME>=<value>, and each line the child
// writes to stdout is parsed as a JSON scxml.Event and raised back on
// the owning session (grounded on mcp.Client's stdio pipe handling).
func ProcessStartFunc() StartFunc {
	return func(ctx context.Context, decl model.InvokeDecl, invokeID string, params map[string]any, content any, parentSend func(*scxml.Event)) (Instance, error) {
		fields := strings.Fields(decl.Src)
		if len(fields) == 0 {
			return nil, fmt.Errorf("invoke/process: empty src")
		}
		childCtx, cancel := context.WithCancel(ctx)
		cmd := exec.CommandContext(childCtx, fields[0], fields[1:]...)
		for k, v := range params {
			cmd.Env = append(cmd.Env, fmt.Sprintf("PARAM_%s=%v", strings.ToUpper(k), v))
		}

		stdin, err := cmd.StdinPipe()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("invoke/process: stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("invoke/process: stdout pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			cancel()
			return nil, fmt.Errorf("invoke/process: start: %w", err)
		}

		inst := &processInstance{cmd: cmd, stdin: stdin, cancel: cancel}

		go func() {
			scanner := bufio.NewScanner(stdout)
			for scanner.Scan() {
				var e scxml.Event
				if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
					continue
				}
				e.InvokeID = invokeID
				e.Type = scxml.EventTypeExternal
				parentSend(&e)
			}
			_ = cmd.Wait()
			parentSend(&scxml.Event{
				Name:     "done.invoke." + invokeID,
				Type:     scxml.EventTypeExternal,
				InvokeID: invokeID,
			})
		}()

		return inst, nil
	}
}
