//go:build unix

package capture

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// checkDevice verifies the process may read the camera device node.
func checkDevice(path string) error {
	if err := unix.Access(path, unix.R_OK); err != nil {
		return fmt.Errorf("%s not readable: %w", path, err)
	}
	return nil
}
