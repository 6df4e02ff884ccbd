package rtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v3"
)

var (
	ErrNoEncoder        = errors.New("rtc: media params name no encoder")
	ErrUnsupportedCodec = errors.New("rtc: unsupported codec")
)

// MediaParams is the stream configuration a viewer sends with a stream
// start request.
type MediaParams struct {
	VideoCapture     string `json:"video_capture,omitempty"`
	VideoEncoder     string `json:"video_encoder,omitempty"`
	AudioSampling    string `json:"audio_sampling,omitempty"`
	AudioEncoder     string `json:"audio_encoder,omitempty"`
	VideoPriority    string `json:"video_priority,omitempty"`
	AudioPriority    string `json:"audio_priority,omitempty"`
	VideoPayloadType uint8  `json:"video_payload_type,omitempty"`
	AudioPayloadType uint8  `json:"audio_payload_type,omitempty"`
	NetworkInterface string `json:"network_interface,omitempty"`
	FlightController string `json:"flight_controller,omitempty"`
}

// ParseMediaParams decodes and validates params from a JSON object.
func ParseMediaParams(raw []byte) (MediaParams, error) {
	var p MediaParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("rtc: decode media params: %w", err)
	}
	return p, p.Validate()
}

func (p MediaParams) Validate() error {
	if p.VideoEncoder == "" && p.AudioEncoder == "" {
		return ErrNoEncoder
	}
	if p.VideoEncoder != "" {
		if _, err := p.VideoCodec(); err != nil {
			return err
		}
	}
	if p.AudioEncoder != "" {
		if _, err := p.AudioCodec(); err != nil {
			return err
		}
	}
	return nil
}

// VideoCodec maps the encoder name onto the codec it produces.
func (p MediaParams) VideoCodec() (webrtc.RTPCodecCapability, error) {
	enc := strings.ToLower(p.VideoEncoder)
	switch {
	case strings.Contains(enc, "264"):
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000}, nil
	case strings.Contains(enc, "vp8"):
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, nil
	case strings.Contains(enc, "vp9"):
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP9, ClockRate: 90000}, nil
	}
	return webrtc.RTPCodecCapability{}, fmt.Errorf("%w: video encoder %q", ErrUnsupportedCodec, p.VideoEncoder)
}

func (p MediaParams) AudioCodec() (webrtc.RTPCodecCapability, error) {
	enc := strings.ToLower(p.AudioEncoder)
	switch {
	case strings.Contains(enc, "opus"):
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, nil
	case strings.Contains(enc, "mulaw"):
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000}, nil
	}
	return webrtc.RTPCodecCapability{}, fmt.Errorf("%w: audio encoder %q", ErrUnsupportedCodec, p.AudioEncoder)
}

// SupportedCodecs lists the codecs a stream can be built with.
func SupportedCodecs() map[string][]string {
	return map[string][]string{
		"video": {webrtc.MimeTypeH264, webrtc.MimeTypeVP8, webrtc.MimeTypeVP9},
		"audio": {webrtc.MimeTypeOpus, webrtc.MimeTypePCMU},
	}
}
