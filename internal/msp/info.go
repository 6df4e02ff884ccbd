package msp

import (
	"context"
	"encoding/binary"
	"fmt"
)

const (
	minBoardInfoSize = 8
	minStatusSize    = 11
	signatureSize    = 32
)

type BoardInfo struct {
	BoardIdentifier       string `json:"board_identifier"`
	HardwareRevision      uint16 `json:"hardware_revision"`
	BoardType             uint8  `json:"board_type"`
	TargetCapabilities    uint8  `json:"target_capabilities"`
	TargetName            string `json:"target_name"`
	BoardName             string `json:"board_name"`
	ManufacturerID        string `json:"manufacturer_id"`
	MCUTypeID             uint8  `json:"mcu_type_id"`
	ConfigurationState    uint8  `json:"configuration_state"`
	SampleRateHz          uint16 `json:"sample_rate_hz"`
	ConfigurationProblems uint32 `json:"configuration_problems"`
}

// Status is the MSP_STATUS reply. StatusEx extends it; fields newer
// firmware does not send stay zero.
type Status struct {
	CycleTime         uint16 `json:"cycle_time"`
	I2CErrors         uint16 `json:"i2c_errors"`
	Sensor            uint16 `json:"sensor"`
	Flag              int32  `json:"flag"`
	CurrentPIDProfile uint8  `json:"current_pid_profile"`
}

type StatusEx struct {
	CycleTime            uint16 `json:"cycle_time"`
	I2CErrors            uint16 `json:"i2c_errors"`
	Sensor               uint16 `json:"sensor"`
	Flag                 uint32 `json:"flag"`
	CurrentPIDProfile    uint8  `json:"current_pid_profile"`
	CPULoad              uint16 `json:"cpu_load"`
	NumProfiles          uint8  `json:"num_profiles"`
	RateProfile          uint8  `json:"rate_profile"`
	ArmingDisableCount   uint8  `json:"arming_disable_count"`
	ArmingDisableFlags   uint32 `json:"arming_disable_flags"`
	ConfigStateFlag      uint8  `json:"config_state_flag"`
	CPUTemp              uint16 `json:"cpu_temp"`
	NumberOfRateProfiles uint8  `json:"number_of_rate_profiles"`
}

func short(what string, got, want int) error {
	return fmt.Errorf("msp: %s reply of %d bytes, want at least %d", what, got, want)
}

// readText reads a length prefixed string. An empty or truncated string
// reads as "".
func readText(b []byte, off int) (string, int) {
	if off >= len(b) {
		return "", off
	}
	n := int(b[off])
	off++
	if n == 0 || off+n > len(b) {
		return "", off
	}
	return string(b[off : off+n]), off + n
}

func ParseBoardInfo(b []byte) (BoardInfo, error) {
	var info BoardInfo
	if len(b) < minBoardInfoSize {
		return info, short("board info", len(b), minBoardInfoSize)
	}
	le := binary.LittleEndian
	info.BoardIdentifier = string(b[0:4])
	info.HardwareRevision = le.Uint16(b[4:])
	info.BoardType = b[6]
	info.TargetCapabilities = b[7]
	off := 8
	info.TargetName, off = readText(b, off)
	info.BoardName, off = readText(b, off)
	info.ManufacturerID, off = readText(b, off)
	off += signatureSize
	if off > len(b) {
		off = len(b)
	}
	if off < len(b) {
		info.MCUTypeID = b[off]
		off++
	}
	if off < len(b) {
		info.ConfigurationState = b[off]
		off++
	}
	if off+2 <= len(b) {
		info.SampleRateHz = le.Uint16(b[off:])
		off += 2
	}
	if off+4 <= len(b) {
		info.ConfigurationProblems = le.Uint32(b[off:])
	}
	return info, nil
}

func ParseStatus(b []byte) (Status, error) {
	if len(b) < minStatusSize {
		return Status{}, short("status", len(b), minStatusSize)
	}
	le := binary.LittleEndian
	return Status{
		CycleTime:         le.Uint16(b[0:]),
		I2CErrors:         le.Uint16(b[2:]),
		Sensor:            le.Uint16(b[4:]),
		Flag:              int32(le.Uint32(b[6:])),
		CurrentPIDProfile: b[10],
	}, nil
}

func ParseStatusEx(b []byte) (StatusEx, error) {
	var s StatusEx
	if len(b) < minStatusSize {
		return s, short("status ex", len(b), minStatusSize)
	}
	le := binary.LittleEndian
	s.CycleTime = le.Uint16(b[0:])
	s.I2CErrors = le.Uint16(b[2:])
	s.Sensor = le.Uint16(b[4:])
	s.Flag = le.Uint32(b[6:])
	s.CurrentPIDProfile = b[10]
	off := 11
	if off+2 <= len(b) {
		s.CPULoad = le.Uint16(b[off:])
		off += 2
	}
	if off < len(b) {
		s.NumProfiles = b[off]
		off++
	}
	if off < len(b) {
		s.RateProfile = b[off]
		off++
	}
	// flight mode flags are length prefixed and skipped
	if off < len(b) {
		off += 1 + int(b[off])
	}
	if off < len(b) {
		s.ArmingDisableCount = b[off]
		off++
	}
	if off+4 <= len(b) {
		s.ArmingDisableFlags = le.Uint32(b[off:])
		off += 4
	}
	if off < len(b) {
		s.ConfigStateFlag = b[off]
		off++
	}
	if off+2 <= len(b) {
		s.CPUTemp = le.Uint16(b[off:])
		off += 2
	}
	if off < len(b) {
		s.NumberOfRateProfiles = b[off]
	}
	return s, nil
}

// FlightController is the capability entry of one detected port.
// Status holds a StatusEx or, on older firmware, a Status.
type FlightController struct {
	Port      string      `json:"port"`
	BoardInfo *BoardInfo  `json:"msp_board_info,omitempty"`
	Status    interface{} `json:"msp_status,omitempty"`
}

// Describe queries board info and status over t. Queries that fail
// leave their field empty.
func Describe(ctx context.Context, t *Transport) FlightController {
	fc := FlightController{Port: t.Path()}
	if b, err := t.Request(ctx, CodeBoardInfo); err == nil {
		if info, err := ParseBoardInfo(b); err == nil {
			fc.BoardInfo = &info
		}
	}
	if b, err := t.Request(ctx, CodeStatusEx); err == nil {
		if s, err := ParseStatusEx(b); err == nil {
			fc.Status = s
			return fc
		}
	}
	if b, err := t.Request(ctx, CodeStatus); err == nil {
		if s, err := ParseStatus(b); err == nil {
			fc.Status = s
		}
	}
	return fc
}
