// Package identity resolves the device's serial number, either from a static
// configuration value or by running a shell command.
package identity

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/lawik/hub_link_agent/internal/agenterr"
)

// Resolve returns the device serial number. If staticSerial is non-empty it
// wins outright, regardless of whether command is also set. Otherwise
// command is executed via `sh -c` and its trimmed stdout is used.
func Resolve(ctx context.Context, staticSerial, command string) (string, error) {
	if staticSerial != "" {
		return staticSerial, nil
	}
	if command == "" {
		return "", agenterr.New(agenterr.SerialUnavailable, "identity.Resolve", errNoSource)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", agenterr.New(agenterr.SerialUnavailable, "identity.Resolve", err)
	}

	serial := strings.TrimSpace(stdout.String())
	if serial == "" {
		return "", agenterr.New(agenterr.SerialUnavailable, "identity.Resolve", errEmptyOutput)
	}
	return serial, nil
}

var (
	errNoSource    = serialErr("neither serial_number nor serial_number_command is set")
	errEmptyOutput = serialErr("serial_number_command produced empty output")
)

type serialErr string

func (e serialErr) Error() string { return string(e) }
