//go:build windows

package bootstrap

import "golang.org/x/sys/windows"

// endpointExists reports whether the named pipe at path has been
// created yet. GetFileAttributes succeeds on an existing named pipe
// without consuming a connection instance, unlike dialing it.
func endpointExists(path string) bool {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return false
	}
	_, err = windows.GetFileAttributes(p)
	return err == nil
}
