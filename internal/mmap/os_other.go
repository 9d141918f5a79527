//go:build !unix

package mmap

import "os"

func osMap(*os.File, int) ([]byte, func([]byte) error, error) {
	return nil, nil, ErrUnsupported
}

func osMapAnon(int, bool) ([]byte, func([]byte) error, error) {
	return nil, nil, ErrUnsupported
}

func osSync([]byte) error { return ErrUnsupported }

func osLock(*os.File) error { return ErrUnsupported }

func osUnlock(*os.File) error { return ErrUnsupported }

func osAdvise([]byte, AccessPattern) error { return nil }
