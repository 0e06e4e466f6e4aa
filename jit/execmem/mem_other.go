//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly || windows)

package execmem

import "os"

func pageSize() int { return os.Getpagesize() }

func mapRW(int) ([]byte, error) { return nil, ErrUnsupported }

func protectRX([]byte) error { return ErrUnsupported }

func unmap([]byte) error { return nil }
