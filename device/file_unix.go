//go:build unix

package device

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// pread fills p from off and returns the bytes read before end of file.
func pread(f *os.File, p []byte, off int64) (int, error) {
	fd := int(f.Fd())
	n := 0
	for n < len(p) {
		m, err := unix.Pread(fd, p[n:], off+int64(n))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return n, err
		}
		if m == 0 {
			break
		}
		n += m
	}
	return n, nil
}

func pwrite(f *os.File, p []byte, off int64) error {
	fd := int(f.Fd())
	n := 0
	for n < len(p) {
		m, err := unix.Pwrite(fd, p[n:], off+int64(n))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if m == 0 {
			return io.ErrShortWrite
		}
		n += m
	}
	return nil
}

func fsync(f *os.File) error {
	return unix.Fsync(int(f.Fd()))
}
