// Package envutil implements small helpers for talking to the outside
// world: splitting a command string the way a shell would, and running
// one to capture its trimmed stdout. forge uses this to resolve things
// like a compiler's version string from $FC --version without shelling
// out through a full interpreter.
package envutil

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/google/shlex"
)

// Split splits command the way a shell would, honouring quoted
// substrings. Used to turn a space-separated environment variable like
// $FFLAGS into a flag slice.
func Split(command string) ([]string, error) {
	parts, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("could not split %q into parts: %w", command, err)
	}
	return parts, nil
}

// Exec splits command the way a shell would, runs it, and returns its
// trimmed stdout. A non-zero exit is reported as an error carrying the
// command's stderr.
func Exec(command string) (string, error) {
	if command == "" {
		return "", errors.New("envutil: Exec requires a non-empty command")
	}

	parts, err := Split(command)
	if err != nil {
		return "", err
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("command %q split into no parts", command)
	}

	cmd := exec.Command(parts[0], parts[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("command %q exited with a non-zero exit code.\nstdout: %s\nstderr: %s", command, stdout.String(), stderr.String())
	}

	return strings.TrimSpace(stdout.String()), nil
}
