// Package msp speaks MultiWii Serial Protocol v1 to a flight controller.
package msp

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// request codes
const (
	CodeBoardInfo     uint8 = 4
	CodeSonarAltitude uint8 = 58
	CodeStatus        uint8 = 101
	CodeRawIMU        uint8 = 102
	CodeRawGPS        uint8 = 106
	CodeCompGPS       uint8 = 107
	CodeAttitude      uint8 = 108
	CodeAltitude      uint8 = 109
	CodeAnalog        uint8 = 110
	CodeBatteryState  uint8 = 130
	CodeStatusEx      uint8 = 150
)

const (
	maxPayload         = 255
	defaultReplyWindow = time.Second
)

var (
	ErrChecksum = errors.New("msp: checksum mismatch")
	ErrTimeout  = errors.New("msp: reply timeout")
	ErrRejected = errors.New("msp: flight controller rejected request")
	ErrClosed   = errors.New("msp: port closed")
)

// EncodeRequest frames a request: "$M<", size, code, payload, checksum.
// The checksum is the XOR of size, code and payload bytes.
func EncodeRequest(code uint8, payload []byte) ([]byte, error) {
	if len(payload) > maxPayload {
		return nil, fmt.Errorf("msp: payload of %d bytes too large", len(payload))
	}
	frame := make([]byte, 0, 6+len(payload))
	frame = append(frame, '$', 'M', '<', byte(len(payload)), code)
	frame = append(frame, payload...)
	return append(frame, checksum(byte(len(payload)), code, payload)), nil
}

func checksum(size, code byte, payload []byte) byte {
	sum := size ^ code
	for _, b := range payload {
		sum ^= b
	}
	return sum
}

type decodeState int

const (
	stateIdle decodeState = iota
	stateM
	stateDirection
	stateSize
	stateCode
	statePayload
	stateChecksum
)

// decoder assembles reply frames ("$M>" or "$M!") one byte at a time.
type decoder struct {
	state    decodeState
	rejected bool
	size     int
	code     uint8
	payload  []byte
}

type frame struct {
	code     uint8
	payload  []byte
	rejected bool
}

// feed consumes one byte. It returns a frame when one is complete.
func (d *decoder) feed(b byte) (*frame, error) {
	switch d.state {
	case stateIdle:
		if b == '$' {
			d.state = stateM
		}
	case stateM:
		if b == 'M' {
			d.state = stateDirection
		} else {
			d.state = stateIdle
		}
	case stateDirection:
		switch b {
		case '>':
			d.rejected = false
			d.state = stateSize
		case '!':
			d.rejected = true
			d.state = stateSize
		default:
			d.state = stateIdle
		}
	case stateSize:
		d.size = int(b)
		d.payload = make([]byte, 0, d.size)
		d.state = stateCode
	case stateCode:
		d.code = b
		if d.size == 0 {
			d.state = stateChecksum
		} else {
			d.state = statePayload
		}
	case statePayload:
		d.payload = append(d.payload, b)
		if len(d.payload) == d.size {
			d.state = stateChecksum
		}
	case stateChecksum:
		d.state = stateIdle
		if checksum(byte(d.size), d.code, d.payload) != b {
			return nil, ErrChecksum
		}
		return &frame{code: d.code, payload: d.payload, rejected: d.rejected}, nil
	}
	return nil, nil
}

// readReply reads until a reply for code arrives or the deadline
// passes. Replies to other codes are skipped. r may return zero bytes
// without error when no data is pending.
func readReply(r io.Reader, code uint8, deadline time.Time) ([]byte, error) {
	var d decoder
	buf := make([]byte, 64)
	for {
		if !time.Now().Before(deadline) {
			return nil, ErrTimeout
		}
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			f, ferr := d.feed(b)
			if ferr != nil {
				return nil, ferr
			}
			if f == nil || f.code != code {
				continue
			}
			if f.rejected {
				return nil, fmt.Errorf("%w: code %d", ErrRejected, code)
			}
			return f.payload, nil
		}
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("msp: read: %w", err)
		}
		if n == 0 {
			time.Sleep(time.Millisecond)
		}
	}
}
