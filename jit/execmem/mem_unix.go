//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package execmem

import "golang.org/x/sys/unix"

func pageSize() int { return unix.Getpagesize() }

func mapRW(n int) ([]byte, error) {
	return unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func protectRX(b []byte) error {
	return unix.Mprotect(b, unix.PROT_READ|unix.PROT_EXEC)
}

func unmap(b []byte) error { return unix.Munmap(b) }
