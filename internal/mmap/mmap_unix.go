//go:build !windows

package mmap

import (
	"os"

	"golang.org/x/sys/unix"
)

func mmap(f *os.File, size int) ([]byte, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	// lookups jump between blocks
	_ = unix.Madvise(data, unix.MADV_RANDOM)
	return data, nil
}

func munmap(data []byte) error {
	return unix.Munmap(data)
}
