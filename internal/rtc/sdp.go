package rtc

import (
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
)

// Rejection lists the media sections a remote answer declined.
type Rejection struct {
	Video bool
	Audio bool
	Other []string
}

func (r Rejection) Any() bool {
	return r.Video || r.Audio || len(r.Other) > 0
}

// Message is the text reported to the viewer.
func (r Rejection) Message() string {
	switch {
	case r.Video && r.Audio:
		return "Peer rejected both video and audio tracks. The viewer likely lacks the required codecs (H264 video / Opus audio)."
	case r.Video:
		return "Peer rejected the video track. Ensure the viewer supports H264 decoding."
	case r.Audio:
		return "Peer rejected the audio track. Ensure the viewer supports Opus decoding."
	case len(r.Other) > 0:
		return fmt.Sprintf("Peer rejected the %s media section.", strings.Join(r.Other, ", "))
	}
	return ""
}

// CheckAnswer scans every media section of an SDP answer. A section is
// rejected when its port is zero or it carries the inactive attribute.
func CheckAnswer(text string) (Rejection, error) {
	var r Rejection
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(text)); err != nil {
		return r, fmt.Errorf("rtc: parse answer: %w", err)
	}
	for _, media := range desc.MediaDescriptions {
		rejected := media.MediaName.Port.Value == 0
		if _, ok := media.Attribute("inactive"); ok {
			rejected = true
		}
		if !rejected {
			continue
		}
		switch kind := media.MediaName.Media; kind {
		case "video":
			r.Video = true
		case "audio":
			r.Audio = true
		default:
			r.Other = append(r.Other, kind)
		}
	}
	return r, nil
}
