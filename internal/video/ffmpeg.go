package video

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"scrollstitch/internal/stitch"
)

// FFmpegOptions locates the ffmpeg tools. A positive FPS resamples inside ffmpeg.
type FFmpegOptions struct {
	FFmpegPath  string
	FFprobePath string
	FPS         float64
}

// FFmpegDecoder pipes raw RGBA frames out of an ffmpeg child process.
type FFmpegDecoder struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	reader *bufio.Reader
	stderr bytes.Buffer
	info   Info
	index  int
	done   bool
}

type probeOutput struct {
	Streams []struct {
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		NbFrames   string `json:"nb_frames"`
		Duration   string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads stream metadata with ffprobe.
func Probe(ctx context.Context, ffprobe, path string) (Info, error) {
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,nb_frames,duration:format=duration",
		"-of", "json",
		path,
	}
	out, err := exec.CommandContext(ctx, ffprobe, args...).Output()
	if err != nil {
		return Info{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parseProbe(out)
}

func parseProbe(data []byte) (Info, error) {
	var probe probeOutput
	if err := json.Unmarshal(data, &probe); err != nil {
		return Info{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(probe.Streams) == 0 {
		return Info{}, errors.New("no video stream")
	}
	s := probe.Streams[0]
	info := Info{Width: s.Width, Height: s.Height, FPS: parseRate(s.RFrameRate)}
	if n, err := strconv.Atoi(s.NbFrames); err == nil {
		info.FrameCount = n
	}
	dur := s.Duration
	if dur == "" || dur == "N/A" {
		dur = probe.Format.Duration
	}
	if secs, err := strconv.ParseFloat(dur, 64); err == nil {
		info.Duration = time.Duration(secs * float64(time.Second))
	}
	if info.FrameCount == 0 && info.FPS > 0 && info.Duration > 0 {
		info.FrameCount = int(math.Round(info.Duration.Seconds() * info.FPS))
	}
	if info.Width <= 0 || info.Height <= 0 {
		return Info{}, fmt.Errorf("invalid frame size %dx%d", info.Width, info.Height)
	}
	return info, nil
}

// parseRate accepts "30", "30000/1001" or "0/0".
func parseRate(rate string) float64 {
	num, den, found := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// OpenFFmpeg probes path and starts decoding it.
func OpenFFmpeg(ctx context.Context, path string, opts FFmpegOptions) (*FFmpegDecoder, error) {
	info, err := Probe(ctx, opts.FFprobePath, path)
	if err != nil {
		return nil, err
	}

	ffmpeg := opts.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	args := []string{"-v", "error", "-nostdin", "-i", path}
	if opts.FPS > 0 && (info.FPS == 0 || opts.FPS < info.FPS) {
		args = append(args, "-vf", fmt.Sprintf("fps=%g", opts.FPS))
		if info.Duration > 0 {
			info.FrameCount = int(math.Round(info.Duration.Seconds() * opts.FPS))
		}
		info.FPS = opts.FPS
	}
	args = append(args, "-f", "rawvideo", "-pix_fmt", "rgba", "-")

	d := &FFmpegDecoder{info: info}
	d.cmd = exec.CommandContext(ctx, ffmpeg, args...)
	d.cmd.Stderr = &d.stderr
	d.stdout, err = d.cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := d.cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	d.reader = bufio.NewReaderSize(d.stdout, info.Width*info.Height*4)
	return d, nil
}

func (d *FFmpegDecoder) Info() Info { return d.info }

func (d *FFmpegDecoder) Next(ctx context.Context) (stitch.Frame, error) {
	if err := ctx.Err(); err != nil {
		return stitch.Frame{}, err
	}
	if d.done {
		return stitch.Frame{}, io.EOF
	}

	img := image.NewRGBA(image.Rect(0, 0, d.info.Width, d.info.Height))
	if _, err := io.ReadFull(d.reader, img.Pix); err != nil {
		d.done = true
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if werr := d.cmd.Wait(); werr != nil && ctx.Err() == nil {
				return stitch.Frame{}, fmt.Errorf("ffmpeg: %w: %s", werr, strings.TrimSpace(d.stderr.String()))
			}
			d.cmd = nil
			return stitch.Frame{}, io.EOF
		}
		return stitch.Frame{}, fmt.Errorf("read frame %d: %w", d.index, err)
	}

	var ts time.Duration
	if d.info.FPS > 0 {
		ts = time.Duration(float64(d.index) / d.info.FPS * float64(time.Second))
	}
	f := stitch.Frame{Index: d.index, Timestamp: ts, Image: img}
	d.index++
	return f, nil
}

func (d *FFmpegDecoder) Close() error {
	if d.cmd == nil {
		return nil
	}
	d.stdout.Close()
	if d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	_ = d.cmd.Wait()
	d.cmd = nil
	return nil
}
