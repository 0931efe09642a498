package ffmpeg

import (
	"context"
	"fmt"
	"time"
)

// endMargin keeps seeks inside the last decodable frame; seeking to the
// exact end of a stream yields no frame.
const endMargin = 50 * time.Millisecond

// ClampTimestamp bounds a capture offset to [0, duration-endMargin]. The
// result never decreases as ts grows, and every offset at or beyond the end
// maps to the same final seek position.
func ClampTimestamp(ts, duration time.Duration) time.Duration {
	if ts < 0 || duration <= 0 {
		return 0
	}
	last := max(duration-endMargin, 0)
	return min(ts, last)
}

// CaptureFrame decodes one frame at ts and returns it as a JPEG scaled to
// width (height follows the aspect ratio). Every call runs its own ffmpeg
// process, so nothing is held once it returns.
func (t *Toolkit) CaptureFrame(ctx context.Context, path string, ts, duration time.Duration, width int) ([]byte, error) {
	seek := ClampTimestamp(ts, duration)
	if width <= 0 {
		width = 720
	}

	args := []string{
		"-v", "error",
		"-ss", fmt.Sprintf("%.3f", seek.Seconds()),
		"-i", path,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:-2", width),
		"-q:v", "3",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"pipe:1",
	}

	out, err := t.runner.Run(ctx, t.ffmpegPath, args...)
	if err != nil {
		return nil, fmt.Errorf("capture frame at %.3fs: %w", seek.Seconds(), err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("capture frame at %.3fs: empty output", seek.Seconds())
	}
	return out, nil
}

// StripOffsets returns count offsets evenly spaced across duration, never
// touching the very start or end.
func StripOffsets(duration time.Duration, count int) []time.Duration {
	if count <= 0 {
		return nil
	}
	offsets := make([]time.Duration, count)
	if duration <= 0 {
		return offsets
	}
	step := duration / time.Duration(count+1)
	for i := range offsets {
		offsets[i] = step * time.Duration(i+1)
	}
	return offsets
}
