//go:build windows

package mmap

import (
	"io"
	"os"
)

// Windows falls back to a plain read. Checkpoint restores are rare enough
// that the extra copy does not matter there.
func mapFile(f *os.File, size int) ([]byte, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, err
	}
	return data, nil
}

func unmapFile(_ []byte) error {
	return nil
}
