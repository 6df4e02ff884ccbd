//go:build !linux

package msp

import (
	"errors"
	"io"
)

func openSerial(path string) (io.ReadWriteCloser, error) {
	return nil, errors.New("msp: serial ports are only supported on linux")
}
