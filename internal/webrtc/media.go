package webrtc

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// LocalTrack дорожка с флагом включения. Выключенная дорожка
// отбрасывает сэмплы, согласование при этом не меняется
type LocalTrack struct {
	*webrtc.TrackLocalStaticSample
	enabled atomic.Bool
}

func NewLocalTrack(codec webrtc.RTPCodecCapability, id, streamID string) (*LocalTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, err
	}
	t := &LocalTrack{TrackLocalStaticSample: track}
	t.enabled.Store(true)
	return t, nil
}

func (t *LocalTrack) WriteSample(s media.Sample) error {
	if !t.enabled.Load() {
		return nil
	}
	return t.TrackLocalStaticSample.WriteSample(s)
}

func (t *LocalTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

func (t *LocalTrack) Enabled() bool { return t.enabled.Load() }

// LocalMedia захваченные дорожки и то, что их наполняет
type LocalMedia struct {
	Audio *LocalTrack
	Video *LocalTrack

	stop    chan struct{}
	wg      sync.WaitGroup
	closers []io.Closer
	once    sync.Once
}

func newLocalMedia() *LocalMedia {
	return &LocalMedia{stop: make(chan struct{})}
}

func (m *LocalMedia) addAudio(streamID string) error {
	t, err := NewLocalTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "audio", streamID)
	if err != nil {
		return fmt.Errorf("audio track: %w", err)
	}
	m.Audio = t
	return nil
}

func (m *LocalMedia) addVideo(streamID string) error {
	t, err := NewLocalTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, "video", streamID)
	if err != nil {
		return fmt.Errorf("video track: %w", err)
	}
	m.Video = t
	return nil
}

func (m *LocalMedia) Tracks() []webrtc.TrackLocal {
	var out []webrtc.TrackLocal
	if m.Audio != nil {
		out = append(out, m.Audio)
	}
	if m.Video != nil {
		out = append(out, m.Video)
	}
	return out
}

func (m *LocalMedia) SetEnabled(kind webrtc.RTPCodecType, enabled bool) {
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		if m.Audio != nil {
			m.Audio.SetEnabled(enabled)
		}
	case webrtc.RTPCodecTypeVideo:
		if m.Video != nil {
			m.Video.SetEnabled(enabled)
		}
	}
}

// Close останавливает источники и закрывает файлы. Повторный вызов ничего не делает
func (m *LocalMedia) Close() error {
	var firstErr error
	m.once.Do(func() {
		close(m.stop)
		m.wg.Wait()
		for _, c := range m.closers {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

func (m *LocalMedia) run(pump func(stop <-chan struct{})) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		pump(m.stop)
	}()
}
