//go:build !unix

package device

import (
	"errors"
	"io"
	"os"
)

func pread(f *os.File, p []byte, off int64) (int, error) {
	n, err := f.ReadAt(p, off)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, err
}

func pwrite(f *os.File, p []byte, off int64) error {
	_, err := f.WriteAt(p, off)
	return err
}

func fsync(f *os.File) error {
	return f.Sync()
}
