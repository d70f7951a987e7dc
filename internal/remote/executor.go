package remote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/enginectl/internal/observability"
	"github.com/danmuck/enginectl/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Request is one execution request. Immutable; never retried by the
// executor. Retry policy belongs to the caller.
type Request struct {
	Command    string
	Mode       protocol.ExecMode
	Unattended bool
	// Timeout bounds the round trip; zero uses Config.CommandTimeout.
	Timeout time.Duration
}

// Result is the structured outcome of one execution request. Crashed
// distinguishes connection loss from a normal script failure and drives
// retry policy in callers.
type Result struct {
	Success bool
	Result  string
	Output  []protocol.OutputLine
	Raw     *protocol.Message
	Crashed bool
}

// Execute runs exactly one request over the open command channel.
//
// Sending without a negotiated channel is a programming error reported as
// ErrNoCommandChannel, not a crash. Timeouts return ErrNoResponse with no
// crash flag; transport resets return ErrPeerCrashed with Crashed set.
func (c *Client) Execute(ctx context.Context, req Request) (Result, error) {
	if c.conn == nil {
		return Result{}, ErrNoCommandChannel
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.CommandTimeout
	}

	msg, err := protocol.Command(c.cfg.NodeName, c.nodeID, protocol.CommandData{
		Command:    req.Command,
		Unattended: req.Unattended,
		ExecMode:   req.Mode,
	})
	if err != nil {
		return Result{}, err
	}
	b, err := protocol.Encode(msg)
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	deadline := start.Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	_ = c.conn.SetWriteDeadline(deadline)
	if _, err := c.conn.Write(b); err != nil {
		return c.classifyTransportFailure(req.Mode, start, "write command", err)
	}

	acc := protocol.NewAccumulator(c.cfg.MaxAccumulate)
	buf := make([]byte, c.cfg.ReceiveBuffer)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			break
		}
		_ = c.conn.SetReadDeadline(deadline)
		n, err := c.conn.Read(buf)
		if err != nil {
			if isTimeout(err) {
				break
			}
			return c.classifyTransportFailure(req.Mode, start, "read reply", err)
		}

		m, done, perr := acc.Push(buf[:n])
		if perr != nil || !done {
			continue
		}
		if m.Type == protocol.TypeCommand {
			// Echo of our own outbound message.
			continue
		}

		data, derr := protocol.DecodeCommandResult(m)
		if derr != nil {
			log.Debug().Err(derr).Str("type", string(m.Type)).Msg("remote: discarding unusable reply")
			continue
		}

		res := Result{
			Success: data.Success,
			Result:  data.Result,
			Output:  data.Output,
			Raw:     &m,
		}
		outcome := "failure"
		if res.Success {
			outcome = "success"
		}
		observability.RecordCommand(string(req.Mode), outcome, time.Since(start))
		log.Info().Bool("success", res.Success).Str("mode", string(req.Mode)).Msg("remote: command executed")
		return res, nil
	}

	observability.RecordCommand(string(req.Mode), "timeout", time.Since(start))
	return Result{}, ErrNoResponse
}

func (c *Client) classifyTransportFailure(mode protocol.ExecMode, start time.Time, op string, err error) (Result, error) {
	if isPeerReset(err) {
		observability.RecordCommand(string(mode), "crashed", time.Since(start))
		log.Error().Err(err).Msg("remote: connection lost during command execution")
		return Result{Crashed: true}, fmt.Errorf("%w: %v", ErrPeerCrashed, err)
	}
	observability.RecordCommand(string(mode), "failure", time.Since(start))
	return Result{}, fmt.Errorf("remote: %s: %w", op, err)
}

// QueryProjectPath asks the connected instance for its project file path
// so callers can tell apart instances of identically named projects.
func (c *Client) QueryProjectPath(ctx context.Context, timeout time.Duration) (string, bool) {
	const q = "import unreal; rel = unreal.Paths.get_project_file_path(); print(unreal.Paths.convert_relative_path_to_full(rel))"
	res, err := c.Execute(ctx, Request{
		Command:    q,
		Mode:       protocol.ModeExecuteStatement,
		Unattended: true,
		Timeout:    timeout,
	})
	if err != nil || !res.Success {
		return "", false
	}
	for _, line := range res.Output {
		out := strings.TrimSpace(line.Output)
		if strings.Contains(out, ".uproject") {
			return out, true
		}
	}
	return "", false
}
