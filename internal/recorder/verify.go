package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/riff"
	"github.com/go-audio/wav"

	"github.com/eliteGoblin/dictd/internal/domain"
)

// riffHeaderSize is the RIFF id plus the size field; the declared size excludes both.
const riffHeaderSize = 8

// errIncomplete means the header does not yet describe the bytes on disk.
var errIncomplete = errors.New("wav header inconsistent with file size")

// checkWAV reports whether path is a complete, header-consistent WAV file.
func checkWAV(path string) (size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if info.Size() == 0 {
		return 0, nil
	}

	parser := riff.New(f)
	if err := parser.ParseHeaders(); err != nil {
		return info.Size(), fmt.Errorf("%w: %v", errIncomplete, err)
	}
	declared := int64(parser.Size) + riffHeaderSize
	if declared != info.Size() {
		return info.Size(), fmt.Errorf("%w: header declares %d bytes, %d on disk", errIncomplete, declared, info.Size())
	}
	return info.Size(), nil
}

// verifyRecording waits until path is a complete capture.
// It returns verified=false when the file exists but never became consistent
// within the timeout; callers proceed with the file in that case.
func verifyRecording(ctx context.Context, path string, timeout, interval time.Duration) (verified bool, err error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	var lastSize int64
	for {
		size, err := checkWAV(path)
		if err == nil && size > 0 {
			return true, nil
		}
		lastErr, lastSize = err, size

		select {
		case <-ticker.C:
			continue
		case <-ctx.Done():
		case <-deadline.C:
		}
		break
	}

	switch {
	case errors.Is(lastErr, os.ErrNotExist):
		return false, domain.ErrRecordingMissing
	case lastErr == nil && lastSize == 0:
		_ = os.Remove(path)
		return false, domain.ErrRecordingEmpty
	case errors.Is(lastErr, errIncomplete):
		return false, nil
	default:
		return false, fmt.Errorf("checking recording: %w", lastErr)
	}
}

// wavDuration returns the audio length of a verified WAV file, zero if unknown.
func wavDuration(path string) time.Duration {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	// Decoder.Duration counts the header bytes as audio; use the data chunk size.
	dec := wav.NewDecoder(f)
	if err := dec.FwdToPCM(); err != nil {
		return 0
	}
	bytesPerSec := int64(dec.SampleRate) * int64(dec.NumChans) * int64(dec.BitDepth) / 8
	if bytesPerSec <= 0 {
		return 0
	}
	return time.Duration(int64(dec.PCMSize) * int64(time.Second) / bytesPerSec)
}
