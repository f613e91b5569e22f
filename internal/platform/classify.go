package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// unreachableMarkers are adb and shell messages meaning the device cannot be reached.
var unreachableMarkers = []string{
	"device not found",
	"no devices/emulators found",
	"device offline",
	"device unauthorized",
	"cannot connect to daemon",
	"connection refused",
	"no route to host",
	"closed",
}

// ClassifyFailure maps a failed device command onto the channel error taxonomy.
// ctx is the context the command ran under; output is its combined output.
func ClassifyFailure(ctx context.Context, command string, output string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDeviceUnreachable) || errors.Is(err, ErrCommandRejected) || errors.Is(err, ErrTimeout) {
		return err
	}
	if ctx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, command)
	}
	lower := strings.ToLower(output + " " + err.Error())
	unreachable := strings.Contains(lower, "error: device") && strings.Contains(lower, "not found")
	for _, m := range unreachableMarkers {
		if unreachable || strings.Contains(lower, m) {
			return fmt.Errorf("%w: %s: %s", ErrDeviceUnreachable, command, strings.TrimSpace(output))
		}
	}
	msg := strings.TrimSpace(output)
	if msg == "" {
		msg = err.Error()
	}
	return fmt.Errorf("%w: %s: %s", ErrCommandRejected, command, msg)
}
