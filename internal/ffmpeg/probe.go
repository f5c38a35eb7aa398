package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

const defaultProbeTimeout = 15 * time.Second

// AudioInfo is the subset of ffprobe output the library keeps.
type AudioInfo struct {
	Path       string
	Duration   float64 // seconds
	FormatName string
	Bitrate    int64
	Codec      string
	SampleRate int
	Channels   int
}

// Prober runs ffprobe against single files.
type Prober struct {
	path    string
	timeout time.Duration
}

func NewProber(ffprobePath string) *Prober {
	return &Prober{path: ffprobePath, timeout: defaultProbeTimeout}
}

// Probe reads container and stream metadata of path.
func (p *Prober) Probe(ctx context.Context, path string) (*AudioInfo, error) {
	if p == nil || p.path == "" {
		return nil, errors.New("ffprobe path is empty")
	}
	if path == "" {
		return nil, errors.New("audio path is required")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-select_streams", "a:0",
		path,
	}
	output, err := exec.CommandContext(ctx, p.path, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	info, err := parseProbeOutput(output)
	if err != nil {
		return nil, err
	}
	info.Path = path
	return info, nil
}

// Duration returns the playing time of path in seconds.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	info, err := p.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}

type probeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
		Duration   string `json:"duration"`
	} `json:"streams"`
}

// parseProbeOutput decodes ffprobe's JSON. ffprobe prints numbers as strings;
// missing or malformed values stay zero.
func parseProbeOutput(data []byte) (*AudioInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := &AudioInfo{
		FormatName: out.Format.FormatName,
		Duration:   parseFloat(out.Format.Duration),
		Bitrate:    int64(parseFloat(out.Format.BitRate)),
	}
	if len(out.Streams) > 0 {
		stream := out.Streams[0]
		info.Codec = stream.CodecName
		info.Channels = stream.Channels
		info.SampleRate, _ = strconv.Atoi(stream.SampleRate)
		if info.Duration == 0 {
			info.Duration = parseFloat(stream.Duration)
		}
	}
	return info, nil
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
