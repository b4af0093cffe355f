//go:build linux || darwin

package bootstrap

import "os"

// endpointExists reports whether the agent has created the FIFO at
// path yet.
func endpointExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
