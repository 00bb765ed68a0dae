package webrtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"go.uber.org/zap"

	"github.com/thereayou/teleconsult/internal/negotiation"
)

const (
	oggPageDuration      = 20 * time.Millisecond
	defaultFrameDuration = 33 * time.Millisecond
	opusSampleRate       = 48000
)

// FileSource отдает в звонок заранее записанные файлы: VP8 в IVF и Opus в Ogg.
// Файлы проигрываются по кругу, пока медиа не освобождены
type FileSource struct {
	VideoPath string
	AudioPath string
	StreamID  string
	Log       *zap.Logger
}

func (s *FileSource) Acquire(ctx context.Context) (negotiation.Media, error) {
	if s.VideoPath == "" && s.AudioPath == "" {
		return nil, fmt.Errorf("%w: no audio or video file configured", negotiation.ErrMediaAcquisitionFailed)
	}

	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}
	streamID := s.StreamID
	if streamID == "" {
		streamID = "teleconsult"
	}

	m := newLocalMedia()
	fail := func(err error) (negotiation.Media, error) {
		_ = m.Close()
		return nil, fmt.Errorf("%w: %v", negotiation.ErrMediaAcquisitionFailed, err)
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	if s.VideoPath != "" {
		f, err := os.Open(s.VideoPath)
		if err != nil {
			return fail(err)
		}
		m.closers = append(m.closers, f)

		reader, header, err := ivfreader.NewWith(f)
		if err != nil {
			return fail(fmt.Errorf("%s: %w", s.VideoPath, err))
		}
		if header.FourCC != "VP80" {
			return fail(fmt.Errorf("%s: unsupported codec %q, want VP80", s.VideoPath, header.FourCC))
		}
		if err := m.addVideo(streamID); err != nil {
			return fail(err)
		}

		frame := defaultFrameDuration
		if header.TimebaseDenominator > 0 && header.TimebaseNumerator > 0 {
			frame = time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
		}

		track := m.Video
		m.run(func(stop <-chan struct{}) {
			pumpIVF(stop, f, reader, track, frame, log)
		})
	}

	if s.AudioPath != "" {
		f, err := os.Open(s.AudioPath)
		if err != nil {
			return fail(err)
		}
		m.closers = append(m.closers, f)

		reader, _, err := oggreader.NewWith(f)
		if err != nil {
			return fail(fmt.Errorf("%s: %w", s.AudioPath, err))
		}
		if err := m.addAudio(streamID); err != nil {
			return fail(err)
		}

		track := m.Audio
		m.run(func(stop <-chan struct{}) {
			pumpOgg(stop, f, reader, track, log)
		})
	}

	return m, nil
}

func pumpIVF(stop <-chan struct{}, f *os.File, reader *ivfreader.IVFReader, track *LocalTrack, frame time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		data, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if reader, err = rewindIVF(f); err != nil {
				log.Warn("rewind video", zap.Error(err))
				return
			}
			continue
		}
		if err != nil {
			log.Warn("read video frame", zap.Error(err))
			return
		}

		if err := track.WriteSample(media.Sample{Data: data, Duration: frame}); err != nil {
			log.Debug("write video sample", zap.Error(err))
		}
	}
}

func rewindIVF(f *os.File) (*ivfreader.IVFReader, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	reader, _, err := ivfreader.NewWith(f)
	return reader, err
}

func pumpOgg(stop <-chan struct{}, f *os.File, reader *oggreader.OggReader, track *LocalTrack, log *zap.Logger) {
	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		page, header, err := reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				log.Warn("rewind audio", zap.Error(err))
				return
			}
			if reader, _, err = oggreader.NewWith(f); err != nil {
				log.Warn("rewind audio", zap.Error(err))
				return
			}
			lastGranule = 0
			continue
		}
		if err != nil {
			log.Warn("read audio page", zap.Error(err))
			return
		}

		duration := oggPageDuration
		if header.GranulePosition > lastGranule {
			samples := header.GranulePosition - lastGranule
			duration = time.Duration(float64(samples) / opusSampleRate * float64(time.Second))
		}
		lastGranule = header.GranulePosition

		if err := track.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
			log.Debug("write audio sample", zap.Error(err))
		}
	}
}
