package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/keagan/slopstudio/pkg/util"
)

// ErrNoVideoStream is returned when a file has nothing to composite over
var ErrNoVideoStream = errors.New("no video stream")

// ProbeVideo reads the size, rate and duration of the first video stream
func (e *Executor) ProbeVideo(ctx context.Context, path string) (*VideoInfo, error) {
	if path == "" {
		return nil, fmt.Errorf("file path is required")
	}

	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w: %s", path, err, bytes.TrimSpace(stderr.Bytes()))
	}

	info, err := parseProbe(out)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", path, err)
	}
	info.Path = path

	e.logger.Debug().
		Str("video", path).
		Dur("duration", info.Duration).
		Int("width", info.Width).
		Int("height", info.Height).
		Float64("fps", info.FPS).
		Msg("probed video")
	return info, nil
}

func parseProbe(data []byte) (*VideoInfo, error) {
	var probe probeResult
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := &VideoInfo{}
	found := false
	for _, s := range probe.Streams {
		switch s.CodecType {
		case "video":
			if found || s.Disposition.AttachedPic == 1 {
				continue
			}
			found = true
			info.Width = s.Width
			info.Height = s.Height
			info.Codec = s.CodecName
			info.FPS = util.ParseFrameRate(s.RFrameRate)
			info.Duration = probeSeconds(s.Duration)
		case "audio":
			info.HasAudio = true
		}
	}
	if !found {
		return nil, ErrNoVideoStream
	}

	// the container duration covers every stream
	if d := probeSeconds(probe.Format.Duration); d > 0 {
		info.Duration = d
	}
	if info.Duration <= 0 {
		return nil, fmt.Errorf("unknown duration")
	}
	return info, nil
}

func probeSeconds(s string) time.Duration {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}

type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType   string `json:"codec_type"`
		CodecName   string `json:"codec_name"`
		Width       int    `json:"width"`
		Height      int    `json:"height"`
		RFrameRate  string `json:"r_frame_rate"`
		Duration    string `json:"duration"`
		Disposition struct {
			AttachedPic int `json:"attached_pic"`
		} `json:"disposition"`
	} `json:"streams"`
}
