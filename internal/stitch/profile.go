package stitch

import "fmt"

// Mode selects a matcher profile.
type Mode string

const (
	ModeGeneric     Mode = "generic"
	ModeVideo       Mode = "video"
	ModeListContent Mode = "list"
)

// ParseMode maps a user-facing name onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeGeneric, "":
		return ModeGeneric, nil
	case ModeVideo:
		return ModeVideo, nil
	case ModeListContent, "list-content", "listContent":
		return ModeListContent, nil
	default:
		return "", fmt.Errorf("unknown matcher mode %q", s)
	}
}

// Profile holds every tunable of the overlap search for one mode.
type Profile struct {
	Mode  Mode    `json:"mode"`
	Scale float64 `json:"scale"`

	// Fractions of the image height treated as chrome (status / navigation bars).
	HeaderRatio float64 `json:"header_ratio"`
	FooterRatio float64 `json:"footer_ratio"`

	// Sample band start rows as fractions of the lower content window.
	SampleDepths  []float64 `json:"sample_depths"`
	ReverseDepths []float64 `json:"reverse_depths"`

	BandRows     int     `json:"band_rows"`
	MinBandRows  int     `json:"min_band_rows"`
	MaxBandFrac  float64 `json:"max_band_frac"`
	ColumnStride int     `json:"column_stride"`

	Threshold  float64 `json:"threshold"`
	TieEpsilon float64 `json:"tie_epsilon"`

	RefineThreshold float64 `json:"refine_threshold"`
	RefineRows      int     `json:"refine_rows"`

	// LowerHalfOnly restricts the search to the upper image's lower half, which assumes a
	// monotonic downward scroll.
	LowerHalfOnly  bool    `json:"lower_half_only"`
	MaxOverlapFrac float64 `json:"max_overlap_frac"`
}

// GenericProfile is tuned for static screenshots.
func GenericProfile() Profile {
	return Profile{
		Mode:            ModeGeneric,
		Scale:           0.2,
		HeaderRatio:     0.12,
		FooterRatio:     0.08,
		SampleDepths:    []float64{0.05, 0.15, 0.25, 0.35},
		ReverseDepths:   []float64{0.65, 0.75, 0.85},
		BandRows:        50,
		MinBandRows:     4,
		MaxBandFrac:     1.0 / 3.0,
		ColumnStride:    4,
		Threshold:       35,
		TieEpsilon:      0.5,
		RefineThreshold: 12,
		RefineRows:      8,
		MaxOverlapFrac:  0.5,
	}
}

// VideoProfile tolerates compression artifacts and assumes downward scrolling.
func VideoProfile() Profile {
	p := GenericProfile()
	p.Mode = ModeVideo
	p.Scale = 0.1
	p.HeaderRatio = 0.10
	p.FooterRatio = 0.05
	p.SampleDepths = []float64{0}
	p.BandRows = 150
	p.MaxBandFrac = 0.5
	p.Threshold = 50
	p.RefineThreshold = 20
	p.LowerHalfOnly = true
	return p
}

// ListContentProfile is for long lists whose repeated rows compress poorly.
func ListContentProfile() Profile {
	p := GenericProfile()
	p.Mode = ModeListContent
	p.HeaderRatio = 0.15
	p.FooterRatio = 0.10
	p.Threshold = 65
	p.RefineThreshold = 20
	return p
}

// DefaultProfile returns the built-in profile for mode.
func DefaultProfile(mode Mode) Profile {
	switch mode {
	case ModeVideo:
		return VideoProfile()
	case ModeListContent:
		return ListContentProfile()
	default:
		return GenericProfile()
	}
}

// DefaultProfiles returns all built-in profiles keyed by mode.
func DefaultProfiles() map[Mode]Profile {
	return map[Mode]Profile{
		ModeGeneric:     GenericProfile(),
		ModeVideo:       VideoProfile(),
		ModeListContent: ListContentProfile(),
	}
}

// Validate rejects profiles that cannot produce a search.
func (p Profile) Validate() error {
	switch {
	case p.Scale <= 0 || p.Scale > 1:
		return fmt.Errorf("profile %s: scale must be in (0,1], got %v", p.Mode, p.Scale)
	case p.HeaderRatio < 0 || p.FooterRatio < 0 || p.HeaderRatio+p.FooterRatio >= 1:
		return fmt.Errorf("profile %s: header/footer ratios leave no content", p.Mode)
	case len(p.SampleDepths) == 0:
		return fmt.Errorf("profile %s: no sample depths", p.Mode)
	case p.BandRows <= 0 || p.MinBandRows <= 0:
		return fmt.Errorf("profile %s: band rows must be positive", p.Mode)
	case p.ColumnStride <= 0:
		return fmt.Errorf("profile %s: column stride must be positive", p.Mode)
	case p.Threshold <= 0:
		return fmt.Errorf("profile %s: threshold must be positive", p.Mode)
	case p.MaxOverlapFrac <= 0 || p.MaxOverlapFrac > 1:
		return fmt.Errorf("profile %s: max overlap fraction must be in (0,1]", p.Mode)
	}
	return nil
}

// window is a half-open row range [start, end).
type window struct {
	start, end int
}

func (w window) size() int {
	return w.end - w.start
}

func (p Profile) contentWindow(height int) window {
	start := int(float64(height) * p.HeaderRatio)
	end := height - int(float64(height)*p.FooterRatio)
	if end < start {
		end = start
	}
	return window{start: start, end: end}
}

func (p Profile) bandRows(content int) int {
	band := p.BandRows
	if p.MaxBandFrac > 0 {
		if limit := int(float64(content) * p.MaxBandFrac); band > limit {
			band = limit
		}
	}
	if band < p.MinBandRows {
		band = p.MinBandRows
	}
	if band > content {
		band = content
	}
	return band
}
