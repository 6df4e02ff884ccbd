package rtc

import (
	"strings"
	"testing"
)

const answerHeader = "v=0\r\n" +
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n"

func answer(sections ...string) string {
	return answerHeader + strings.Join(sections, "")
}

const (
	videoOK       = "m=video 9 UDP/TLS/RTP/SAVPF 96\r\nc=IN IP4 0.0.0.0\r\na=mid:0\r\na=recvonly\r\na=rtpmap:96 H264/90000\r\n"
	videoPortZero = "m=video 0 UDP/TLS/RTP/SAVPF 96\r\nc=IN IP4 0.0.0.0\r\na=mid:0\r\na=rtpmap:96 H264/90000\r\n"
	audioOK       = "m=audio 9 UDP/TLS/RTP/SAVPF 111\r\nc=IN IP4 0.0.0.0\r\na=mid:1\r\na=recvonly\r\na=rtpmap:111 opus/48000/2\r\n"
	audioInactive = "m=audio 9 UDP/TLS/RTP/SAVPF 111\r\nc=IN IP4 0.0.0.0\r\na=mid:1\r\na=inactive\r\na=rtpmap:111 opus/48000/2\r\n"
	appPortZero   = "m=application 0 UDP/DTLS/SCTP webrtc-datachannel\r\nc=IN IP4 0.0.0.0\r\na=mid:2\r\n"
)

func TestCheckAnswer(t *testing.T) {
	cases := []struct {
		name    string
		sdp     string
		video   bool
		audio   bool
		message string
	}{
		{"accepted", answer(videoOK, audioOK), false, false, ""},
		{"video port zero", answer(videoPortZero, audioOK), true, false, "Peer rejected the video track. Ensure the viewer supports H264 decoding."},
		{"audio inactive", answer(videoOK, audioInactive), false, true, "Peer rejected the audio track. Ensure the viewer supports Opus decoding."},
		{"both", answer(videoPortZero, audioInactive), true, true, "Peer rejected both video and audio tracks. The viewer likely lacks the required codecs (H264 video / Opus audio)."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := CheckAnswer(tc.sdp)
			if err != nil {
				t.Fatalf("CheckAnswer: %v", err)
			}
			if r.Video != tc.video || r.Audio != tc.audio {
				t.Fatalf("rejection = %+v", r)
			}
			if r.Any() != (tc.video || tc.audio) {
				t.Fatalf("Any = %v", r.Any())
			}
			if r.Message() != tc.message {
				t.Fatalf("message = %q", r.Message())
			}
		})
	}
}

func TestCheckAnswerOtherSection(t *testing.T) {
	r, err := CheckAnswer(answer(videoOK, appPortZero))
	if err != nil {
		t.Fatalf("CheckAnswer: %v", err)
	}
	if !r.Any() || r.Video || r.Audio {
		t.Fatalf("rejection = %+v", r)
	}
	if r.Message() != "Peer rejected the application media section." {
		t.Fatalf("message = %q", r.Message())
	}
}

func TestCheckAnswerGarbage(t *testing.T) {
	if _, err := CheckAnswer("not an sdp"); err == nil {
		t.Fatal("expected parse error")
	}
}
