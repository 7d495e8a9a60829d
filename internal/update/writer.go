package update

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/lawik/hub_link_agent/internal/agenterr"
)

// Writer is the external firmware-writer collaborator. RealWriter spawns
// the actual `fwup` binary; tests substitute a fake.
type Writer interface {
	// Apply invokes the writer against the downloaded image and waits for it
	// to exit. A non-zero exit or spawn failure is reported as ApplyFailed /
	// ApplyUnavailable respectively.
	Apply(ctx context.Context, devpath, imagePath, task string) error
	// Version returns the writer's self-reported version string, or "" if it
	// cannot be determined.
	Version(ctx context.Context) string
}

// RealWriter shells out to the `fwup` binary as
// `fwup -a -d {devpath} -i {file} -t {task}`.
type RealWriter struct {
	// Bin overrides the binary name/path; defaults to "fwup".
	Bin string
}

func (w RealWriter) bin() string {
	if w.Bin != "" {
		return w.Bin
	}
	return "fwup"
}

func (w RealWriter) Apply(ctx context.Context, devpath, imagePath, task string) error {
	const op = "update.RealWriter.Apply"

	cmd := exec.CommandContext(ctx, w.bin(), "-a", "-d", devpath, "-i", imagePath, "-t", task)
	err := cmd.Run()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return agenterr.New(agenterr.ApplyFailed, op, err)
	}
	return agenterr.New(agenterr.ApplyUnavailable, op, err)
}

// Version runs `fwup --version` and parses the first whitespace-delimited
// token of stdout. It returns "" if the writer cannot be run.
func (w RealWriter) Version(ctx context.Context) string {
	cmd := exec.CommandContext(ctx, w.bin(), "--version")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return ""
	}
	fields := strings.Fields(out.String())
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
