package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"gocv.io/x/gocv"

	"scrollstitch/internal/stitch"
)

// GocvDecoder reads frames through OpenCV's VideoCapture.
type GocvDecoder struct {
	capture *gocv.VideoCapture
	mat     gocv.Mat
	info    Info
	index   int
}

// OpenGocv opens a recording with OpenCV.
func OpenGocv(path string) (*GocvDecoder, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, err
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("opencv cannot open %s", path)
	}

	fps := capture.Get(gocv.VideoCaptureFPS)
	count := int(capture.Get(gocv.VideoCaptureFrameCount))
	info := Info{
		FPS:        fps,
		FrameCount: count,
		Width:      int(capture.Get(gocv.VideoCaptureFrameWidth)),
		Height:     int(capture.Get(gocv.VideoCaptureFrameHeight)),
	}
	if fps > 0 && count > 0 {
		info.Duration = time.Duration(float64(count) / fps * float64(time.Second))
	}
	return &GocvDecoder{capture: capture, mat: gocv.NewMat(), info: info}, nil
}

func (d *GocvDecoder) Info() Info { return d.info }

func (d *GocvDecoder) Next(ctx context.Context) (stitch.Frame, error) {
	if err := ctx.Err(); err != nil {
		return stitch.Frame{}, err
	}
	if d.capture == nil {
		return stitch.Frame{}, errors.New("decoder closed")
	}
	if ok := d.capture.Read(&d.mat); !ok || d.mat.Empty() {
		return stitch.Frame{}, io.EOF
	}

	img, err := d.mat.ToImage()
	if err != nil {
		return stitch.Frame{}, fmt.Errorf("convert frame %d: %w", d.index, err)
	}

	ts := time.Duration(d.capture.Get(gocv.VideoCapturePosMsec) * float64(time.Millisecond))
	if ts == 0 && d.info.FPS > 0 {
		ts = time.Duration(float64(d.index) / d.info.FPS * float64(time.Second))
	}
	f := stitch.Frame{Index: d.index, Timestamp: ts, Image: img}
	d.index++
	return f, nil
}

func (d *GocvDecoder) Close() error {
	if d.capture == nil {
		return nil
	}
	d.mat.Close()
	err := d.capture.Close()
	d.capture = nil
	return err
}
