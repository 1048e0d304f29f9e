// Package snapshot implements the polling capture path for audio sources the
// process cannot stream directly. A privileged helper (the bridge) lists and
// copies recorder files from an elevated directory; the collector decodes the
// most recent live file, extracts a trailing window, and hands the canonical
// PCM to the classification pipeline.
package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// FileInfo describes one file visible through the bridge.
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Bridge is the synchronous out-of-process command channel into the
// privileged directory. The external directory is read/copy-only; no bridge
// operation mutates it.
type Bridge interface {
	// List returns the files directly inside dir.
	List(ctx context.Context, dir string) ([]FileInfo, error)

	// Copy duplicates src (inside the privileged directory) to dst
	// (a path the process owns).
	Copy(ctx context.Context, src, dst string) error

	// Chmod loosens permissions on dst so normal file APIs can open it.
	Chmod(ctx context.Context, dst string, mode os.FileMode) error
}

// BridgeCommandError reports a privileged helper invocation that exited
// non-zero. It aborts the current poll cycle only.
type BridgeCommandError struct {
	Op       string
	ExitCode int
	Stderr   string
}

func (e *BridgeCommandError) Error() string {
	return fmt.Sprintf("snapshot: bridge %s exited %d: %s", e.Op, e.ExitCode, strings.TrimSpace(e.Stderr))
}

// ExecBridge shells out to a privileged helper executable. The helper accepts
// three subcommands:
//
//	<helper> list <dir>           — one line per file: "<size>\t<mtime-unix>\t<path>"
//	<helper> copy <src> <dst>
//	<helper> chmod <octal> <path>
type ExecBridge struct {
	// Command is the helper executable, optionally with leading arguments
	// (e.g., "sudo -n /usr/libexec/callwarden-bridge").
	Command string
}

var _ Bridge = (*ExecBridge)(nil)

// run invokes the helper with args appended to the configured command line.
func (b *ExecBridge) run(ctx context.Context, op string, args ...string) ([]byte, error) {
	parts := strings.Fields(b.Command)
	if len(parts) == 0 {
		return nil, fmt.Errorf("snapshot: bridge command is empty")
	}
	argv := append(parts[1:], append([]string{op}, args...)...)

	cmd := exec.CommandContext(ctx, parts[0], argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, &BridgeCommandError{
				Op:       op,
				ExitCode: exitErr.ExitCode(),
				Stderr:   stderr.String(),
			}
		}
		return nil, fmt.Errorf("snapshot: bridge %s: %w", op, err)
	}
	return stdout.Bytes(), nil
}

func (b *ExecBridge) List(ctx context.Context, dir string) ([]FileInfo, error) {
	out, err := b.run(ctx, "list", dir)
	if err != nil {
		return nil, err
	}

	var infos []FileInfo
	for line := range strings.Lines(string(out)) {
		line = strings.TrimRight(line, "\n")
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf("snapshot: bridge list: malformed line %q", line)
		}
		size, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("snapshot: bridge list: bad size in %q: %w", line, err)
		}
		mtime, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("snapshot: bridge list: bad mtime in %q: %w", line, err)
		}
		infos = append(infos, FileInfo{
			Path:    fields[2],
			Size:    size,
			ModTime: time.Unix(mtime, 0),
		})
	}
	return infos, nil
}

func (b *ExecBridge) Copy(ctx context.Context, src, dst string) error {
	_, err := b.run(ctx, "copy", src, dst)
	return err
}

func (b *ExecBridge) Chmod(ctx context.Context, dst string, mode os.FileMode) error {
	_, err := b.run(ctx, "chmod", fmt.Sprintf("%04o", mode.Perm()), dst)
	return err
}
