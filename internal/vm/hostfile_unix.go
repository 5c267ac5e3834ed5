//go:build linux || darwin
// +build linux darwin

package vm

import "golang.org/x/sys/unix"

// unixHost implements HostBridge over golang.org/x/sys/unix's raw write(2),
// for code that must reach the kernel directly rather than through os.File.
type unixHost struct{}

// NewHostBridge returns the platform syscall bridge for this GOOS.
func NewHostBridge() HostBridge {
	return unixHost{}
}

func (unixHost) Write(fd int, data []byte) (int, error) {
	return unix.Write(fd, data)
}
