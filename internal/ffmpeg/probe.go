package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Toolkit bundles the ffprobe/ffmpeg binaries behind a Runner.
type Toolkit struct {
	runner      Runner
	ffmpegPath  string
	ffprobePath string
}

func NewToolkit(runner Runner, ffmpegPath, ffprobePath string) *Toolkit {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Toolkit{runner: runner, ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// VideoInfo is what the probe learns about a video file.
type VideoInfo struct {
	Duration time.Duration
	Width    int
	Height   int
}

// DurationSeconds is the duration rounded to the nearest whole second.
func (v VideoInfo) DurationSeconds() int {
	secs := math.Round(v.Duration.Seconds())
	if secs < 0 {
		return 0
	}
	return int(secs)
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width,omitempty"`
		Height    int    `json:"height,omitempty"`
		Duration  string `json:"duration,omitempty"`
		Tags      struct {
			Rotate string `json:"rotate,omitempty"`
		} `json:"tags"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ProbeVideo reads duration and dimensions of the first video stream.
func (t *Toolkit) ProbeVideo(ctx context.Context, path string) (*VideoInfo, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	output, err := t.runner.Run(ctx, t.ffprobePath, args...)
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probeData ffprobeOutput
	if err := json.Unmarshal(output, &probeData); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := &VideoInfo{}
	var seconds float64
	if probeData.Format.Duration != "" {
		if d, err := strconv.ParseFloat(probeData.Format.Duration, 64); err == nil {
			seconds = d
		}
	}

	found := false
	for _, stream := range probeData.Streams {
		if stream.CodecType != "video" {
			continue
		}
		found = true
		info.Width = stream.Width
		info.Height = stream.Height
		// Portrait phone footage is stored landscape with a rotate tag.
		if stream.Tags.Rotate == "90" || stream.Tags.Rotate == "270" || stream.Tags.Rotate == "-90" {
			info.Width, info.Height = info.Height, info.Width
		}
		if seconds == 0 && stream.Duration != "" {
			if d, err := strconv.ParseFloat(stream.Duration, 64); err == nil {
				seconds = d
			}
		}
		break
	}
	if !found {
		return nil, fmt.Errorf("no video stream in %s", path)
	}
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		seconds = 0
	}

	info.Duration = time.Duration(seconds * float64(time.Second))
	return info, nil
}
