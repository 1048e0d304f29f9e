package capability

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// queryTimeout bounds a single capability probe of the host bridge.
const queryTimeout = 5 * time.Second

// CommandProvider queries grant state through the privileged helper binary:
// `<command> capability <name>` exits 0 when the capability is granted. A
// probe that fails to run at all reports not-granted, which errs toward
// disabling protection features rather than running without their backing
// permissions.
type CommandProvider struct {
	// Command is the helper invocation, split on whitespace.
	Command string
}

var _ Provider = (*CommandProvider)(nil)

// IsGranted implements [Provider].
func (p *CommandProvider) IsGranted(c Capability) bool {
	parts := strings.Fields(p.Command)
	if len(parts) == 0 {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	args := append(parts[1:], "capability", string(c))
	err := exec.CommandContext(ctx, parts[0], args...).Run()
	if err == nil {
		return true
	}
	if _, ok := err.(*exec.ExitError); !ok {
		slog.Warn("capability probe failed to run", "capability", c, "err", err)
	}
	return false
}
