package tasks

import (
	"log/slog"
	"os/exec"
	"strings"

	"gocv.io/x/gocv"

	"scrollstitch/internal/config"
	"scrollstitch/internal/logging"
)

// ToolStatus represents the availability of an external decoder.
type ToolStatus struct {
	Name      string
	Available bool
	Version   string
	Path      string
	Error     error
}

// CheckTool verifies that binary is on PATH and reports the first line of its -version output.
func CheckTool(name, binary string) ToolStatus {
	path, err := exec.LookPath(binary)
	if err != nil {
		return ToolStatus{Name: name, Error: err}
	}
	status := ToolStatus{Name: name, Available: true, Path: path}
	if out, err := exec.Command(path, "-version").Output(); err == nil {
		status.Version, _, _ = strings.Cut(strings.TrimSpace(string(out)), "\n")
	}
	return status
}

// DecoderStatus reports the video decoders usable with cfg.
func DecoderStatus(cfg config.VideoConfig) []ToolStatus {
	return []ToolStatus{
		{Name: "opencv", Available: true, Version: gocv.OpenCVVersion()},
		CheckTool("ffmpeg", cfg.FFmpegPath),
		CheckTool("ffprobe", cfg.FFprobePath),
	}
}

// LogDecoderStatus logs every decoder and warns when the configured one is missing.
func LogDecoderStatus(cfg config.VideoConfig, logger *slog.Logger) {
	for _, st := range DecoderStatus(cfg) {
		logging.LogToolStatus(logger, st.Name, st.Available, st.Version, st.Path, st.Error)
		if !st.Available && cfg.Decoder == "ffmpeg" {
			logger.Warn("Configured video decoder is missing a tool", "tool", st.Name, "error", st.Error)
		}
	}
}
