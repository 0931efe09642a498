package ffmpeg

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	out   []byte
	err   error
	calls [][]string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return f.out, f.err
}

func (f *fakeRunner) seekArg(call int) string {
	args := f.calls[call]
	for i, a := range args {
		if a == "-ss" {
			return args[i+1]
		}
	}
	return ""
}

const probeJSON = `{
  "streams": [
    {"codec_type": "audio", "duration": "44.9"},
    {"codec_type": "video", "width": 1920, "height": 1080, "duration": "45.1"}
  ],
  "format": {"duration": "45.4"}
}`

func TestProbeVideo_RoundsDuration(t *testing.T) {
	runner := &fakeRunner{out: []byte(probeJSON)}
	tk := NewToolkit(runner, "", "")

	info, err := tk.ProbeVideo(context.Background(), "/tmp/clip.mp4")
	require.NoError(t, err)

	assert.Equal(t, 45, info.DurationSeconds())
	assert.Equal(t, 1920, info.Width)
	assert.Equal(t, 1080, info.Height)
	assert.Equal(t, "ffprobe", runner.calls[0][0])
}

func TestProbeVideo_RotatedStreamSwapsDimensions(t *testing.T) {
	runner := &fakeRunner{out: []byte(`{"streams":[{"codec_type":"video","width":1920,"height":1080,"tags":{"rotate":"90"}}],"format":{"duration":"12.5"}}`)}
	info, err := NewToolkit(runner, "", "").ProbeVideo(context.Background(), "clip.mov")
	require.NoError(t, err)

	assert.Equal(t, 1080, info.Width)
	assert.Equal(t, 1920, info.Height)
	assert.Equal(t, 13, info.DurationSeconds())
}

func TestProbeVideo_FallsBackToStreamDuration(t *testing.T) {
	runner := &fakeRunner{out: []byte(`{"streams":[{"codec_type":"video","width":640,"height":360,"duration":"0.4"}],"format":{}}`)}
	info, err := NewToolkit(runner, "", "").ProbeVideo(context.Background(), "clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, 0, info.DurationSeconds())
}

func TestProbeVideo_Errors(t *testing.T) {
	_, err := NewToolkit(&fakeRunner{err: errors.New("exit status 1")}, "", "").ProbeVideo(context.Background(), "x")
	assert.Error(t, err)

	_, err = NewToolkit(&fakeRunner{out: []byte(`{"streams":[{"codec_type":"audio"}],"format":{"duration":"3"}}`)}, "", "").ProbeVideo(context.Background(), "x")
	assert.ErrorContains(t, err, "no video stream")
}

func TestClampTimestamp(t *testing.T) {
	d := 45 * time.Second

	assert.Equal(t, 10*time.Second, ClampTimestamp(10*time.Second, d))
	assert.Equal(t, time.Duration(0), ClampTimestamp(-time.Second, d))
	assert.Equal(t, ClampTimestamp(d, d), ClampTimestamp(d+time.Second, d))
	assert.True(t, ClampTimestamp(d, d) < d)
	assert.Equal(t, time.Duration(0), ClampTimestamp(time.Second, 0))
	assert.Equal(t, time.Duration(0), ClampTimestamp(20*time.Millisecond, 30*time.Millisecond))
}

func TestClampTimestamp_Monotonic(t *testing.T) {
	d := 2 * time.Second
	prev := time.Duration(-1)
	for ts := d - 100*time.Millisecond; ts <= d+100*time.Millisecond; ts += 10 * time.Millisecond {
		got := ClampTimestamp(ts, d)
		assert.GreaterOrEqual(t, got, prev, "ts=%v", ts)
		assert.LessOrEqual(t, got, ClampTimestamp(d, d), "ts=%v", ts)
		prev = got
	}
	assert.Equal(t, ClampTimestamp(d, d), ClampTimestamp(d-20*time.Millisecond, d))
}

func TestCaptureFrame_BeyondDurationMatchesEnd(t *testing.T) {
	runner := &fakeRunner{out: []byte{0xff, 0xd8, 0xff}}
	tk := NewToolkit(runner, "/usr/bin/ffmpeg", "")
	d := 45 * time.Second

	atEnd, err := tk.CaptureFrame(context.Background(), "clip.mp4", d, d, 320)
	require.NoError(t, err)
	beyond, err := tk.CaptureFrame(context.Background(), "clip.mp4", d+time.Second, d, 320)
	require.NoError(t, err)

	assert.Equal(t, atEnd, beyond)
	assert.Equal(t, runner.seekArg(0), runner.seekArg(1))
	assert.Equal(t, "/usr/bin/ffmpeg", runner.calls[0][0])
	assert.True(t, strings.Contains(strings.Join(runner.calls[0], " "), "scale=320:-2"))
}

func TestCaptureFrame_EmptyOutput(t *testing.T) {
	_, err := NewToolkit(&fakeRunner{}, "", "").CaptureFrame(context.Background(), "clip.mp4", 0, time.Second, 0)
	assert.ErrorContains(t, err, "empty output")
}

func TestStripOffsets(t *testing.T) {
	offsets := StripOffsets(90*time.Second, 8)
	require.Len(t, offsets, 8)
	assert.Equal(t, 10*time.Second, offsets[0])
	assert.Equal(t, 80*time.Second, offsets[7])
	for i := 1; i < len(offsets); i++ {
		assert.True(t, offsets[i] > offsets[i-1])
	}
	assert.Nil(t, StripOffsets(time.Second, 0))
}
