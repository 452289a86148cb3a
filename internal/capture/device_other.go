//go:build !unix

package capture

import "os"

func checkDevice(path string) error {
	_, err := os.Stat(path)
	return err
}
