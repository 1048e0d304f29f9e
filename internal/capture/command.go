package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// CommandSource streams raw PCM from an external recorder process (arecord,
// parec, or the host bridge's record subcommand). The process is bound to the
// context passed to Start: cancelling it kills the recorder, which surfaces
// to the engine as end-of-stream.
type CommandSource struct {
	cmd *exec.Cmd
	out io.ReadCloser
}

// StartCommandSource launches the recorder and returns a source reading its
// stdout. The command string is split on whitespace; the session kind and
// target are exposed to the process via CALLWARDEN_SESSION_KIND and
// CALLWARDEN_SESSION_TARGET.
func StartCommandSource(ctx context.Context, command, kind, target string) (*CommandSource, error) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return nil, fmt.Errorf("capture: empty recorder command")
	}

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Env = append(cmd.Environ(),
		"CALLWARDEN_SESSION_KIND="+kind,
		"CALLWARDEN_SESSION_TARGET="+target,
	)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture: recorder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("capture: start recorder: %w", err)
	}
	return &CommandSource{cmd: cmd, out: out}, nil
}

// Read implements [Source]. The underlying pipe read does not observe ctx
// directly; cancelling the context kills the recorder process, which closes
// the pipe and ends the read.
func (s *CommandSource) Read(ctx context.Context, buf []byte) (int, error) {
	n, err := s.out.Read(buf)
	if err != nil {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		if err == io.EOF {
			return n, io.EOF
		}
		return n, fmt.Errorf("capture: read recorder: %w", err)
	}
	return n, nil
}

// Close reaps the recorder process. Call after the engine has stopped.
func (s *CommandSource) Close() error {
	s.out.Close()
	if err := s.cmd.Wait(); err != nil {
		// Killed-by-cancel is the normal teardown path.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil
		}
		return fmt.Errorf("capture: recorder exit: %w", err)
	}
	return nil
}
