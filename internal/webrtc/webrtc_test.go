package webrtc

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"

	"github.com/thereayou/teleconsult/internal/negotiation"
)

// writeIVF пишет минимальный IVF файл из одного кадра
func writeIVF(t *testing.T, fourcc string) string {
	t.Helper()

	header := make([]byte, 32)
	copy(header[0:4], "DKIF")
	binary.LittleEndian.PutUint16(header[4:], 0)
	binary.LittleEndian.PutUint16(header[6:], 32)
	copy(header[8:12], fourcc)
	binary.LittleEndian.PutUint16(header[12:], 640)
	binary.LittleEndian.PutUint16(header[14:], 480)
	binary.LittleEndian.PutUint32(header[16:], 30)
	binary.LittleEndian.PutUint32(header[20:], 1)
	binary.LittleEndian.PutUint32(header[24:], 1)

	frame := make([]byte, 12)
	binary.LittleEndian.PutUint32(frame[0:], 4)

	data := append(append(header, frame...), 0x10, 0x02, 0x00, 0x9d)

	path := filepath.Join(t.TempDir(), "video.ivf")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write ivf: %v", err)
	}
	return path
}

func TestFileSourceAcquireFailures(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "audio.ogg")
	if err := os.WriteFile(garbage, []byte("definitely not ogg"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		src  FileSource
	}{
		{"nothing configured", FileSource{}},
		{"missing video", FileSource{VideoPath: filepath.Join(dir, "nope.ivf")}},
		{"wrong codec", FileSource{VideoPath: writeIVF(t, "H264")}},
		{"invalid ogg", FileSource{AudioPath: garbage}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := tt.src.Acquire(context.Background())
			if !errors.Is(err, negotiation.ErrMediaAcquisitionFailed) {
				t.Fatalf("err=%v, want ErrMediaAcquisitionFailed", err)
			}
			if m != nil {
				t.Fatal("media returned on failure")
			}
		})
	}
}

func TestFileSourceVideoOnly(t *testing.T) {
	src := FileSource{VideoPath: writeIVF(t, "VP80"), Log: zap.NewNop()}

	m, err := src.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	tracks := m.Tracks()
	if len(tracks) != 1 || tracks[0].Kind() != webrtc.RTPCodecTypeVideo {
		t.Fatalf("tracks=%v, want one video track", tracks)
	}

	local := m.(*LocalMedia)
	m.SetEnabled(webrtc.RTPCodecTypeVideo, false)
	if local.Video.Enabled() {
		t.Fatal("video still enabled")
	}
	// аудио нет, вызов не должен паниковать
	m.SetEnabled(webrtc.RTPCodecTypeAudio, false)

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestLocalTrackDropsSamplesWhenDisabled(t *testing.T) {
	track, err := NewLocalTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "audio", "s")
	if err != nil {
		t.Fatalf("NewLocalTrack: %v", err)
	}
	if !track.Enabled() {
		t.Fatal("new track should be enabled")
	}

	track.SetEnabled(false)
	if err := track.WriteSample(media.Sample{Data: []byte{1, 2, 3}}); err != nil {
		t.Fatalf("WriteSample on disabled track: %v", err)
	}
}

func TestICEServers(t *testing.T) {
	if got := ICEServers(nil, "", ""); len(got) != 1 || !strings.HasPrefix(got[0].URLs[0], "stun:") {
		t.Fatalf("default servers=%+v", got)
	}

	got := ICEServers([]string{"stun:stun.example.org:3478", "turn:turn.example.org:3478"}, "user", "pass")
	if len(got) != 2 {
		t.Fatalf("got %d servers", len(got))
	}
	if got[0].Username != "" {
		t.Fatal("credentials attached to stun server")
	}
	if got[1].Username != "user" || got[1].Credential != "pass" {
		t.Fatalf("turn credentials missing: %+v", got[1])
	}
}

func TestPeerFactoryOfferAnswer(t *testing.T) {
	factory, err := NewPeerFactory(nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewPeerFactory: %v", err)
	}

	m := newLocalMedia()
	if err := m.addAudio("s"); err != nil {
		t.Fatal(err)
	}
	if err := m.addVideo("s"); err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	offerer, err := factory.NewPeer(uuid.New(), m, negotiation.PeerEvents{})
	if err != nil {
		t.Fatalf("NewPeer: %v", err)
	}
	defer offerer.Close()

	answerer, err := factory.NewPeer(uuid.New(), nil, negotiation.PeerEvents{})
	if err != nil {
		t.Fatalf("NewPeer: %v", err)
	}
	defer answerer.Close()

	offer, err := offerer.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if !strings.Contains(offer.SDP, "m=audio") || !strings.Contains(offer.SDP, "m=video") {
		t.Fatalf("offer lacks media sections:\n%s", offer.SDP)
	}

	if err := answerer.SetRemoteDescription(offer); err != nil {
		t.Fatalf("SetRemoteDescription(offer): %v", err)
	}
	answer, err := answerer.CreateAnswer()
	if err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	if answer.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("answer type=%v", answer.Type)
	}
	if err := offerer.SetRemoteDescription(answer); err != nil {
		t.Fatalf("SetRemoteDescription(answer): %v", err)
	}
}
