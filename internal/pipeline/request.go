package pipeline

import (
	"fmt"

	apperrors "scrollstitch/internal/errors"
	"scrollstitch/internal/stitch"
)

// Request is the external form of a job submission shared by the HTTP and gRPC surfaces.
type Request struct {
	Type    JobType  `json:"type"`
	Input   string   `json:"input"`
	Inputs  []string `json:"inputs"`
	Output  string   `json:"output"`
	Mode    string   `json:"mode"`
	Reorder *bool    `json:"reorder"`
	Full    bool     `json:"full"`
}

// Job validates req and turns it into a Job with a fresh id.
func (req Request) Job() (Job, error) {
	job := Job{
		ID:        NewID(string(req.Type)),
		Type:      req.Type,
		InputPath: req.Input,
		Output:    req.Output,
		Options:   map[string]any{},
	}
	switch req.Type {
	case JobScreenshots:
		if len(req.Inputs) == 0 && req.Input == "" {
			return job, apperrors.NewValidationError("screenshots job needs input or inputs", nil)
		}
		if len(req.Inputs) > 0 {
			job.Options["inputs"] = req.Inputs
		}
		if req.Mode != "" {
			if _, err := stitch.ParseMode(req.Mode); err != nil {
				return job, apperrors.NewValidationError("invalid mode", err)
			}
			job.Options["mode"] = req.Mode
		}
		if req.Reorder != nil {
			job.Options["reorder"] = *req.Reorder
		}
	case JobVideo, JobRender:
		if req.Input == "" {
			return job, apperrors.NewValidationError(fmt.Sprintf("%s job needs input", req.Type), nil)
		}
		if req.Full {
			job.Options["full"] = true
		}
	default:
		return job, apperrors.NewValidationError(fmt.Sprintf("unknown job type %q", req.Type), nil)
	}
	return job, nil
}
