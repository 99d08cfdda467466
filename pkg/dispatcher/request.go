package dispatcher

// Mode identifies which of the three request paths a job takes.
type Mode string

const (
	ModeTest     Mode = "test"
	ModeDiagnose Mode = "diagnose"
	ModeGenerate Mode = "generate"
)

// JobRequest is the POST /run input payload. Modes are selected by flag
// presence with fixed precedence: test beats diagnose beats generate.
// Generate is the default when neither flag is set.
type JobRequest struct {
	Test     bool `json:"test,omitempty"`
	Diagnose bool `json:"diagnose,omitempty"`

	Workflow       string `json:"workflow,omitempty"`
	ImageBase64    string `json:"image_base64,omitempty"`
	EndImageBase64 string `json:"end_image_base64,omitempty"`

	Seed   *int64   `json:"seed,omitempty"`
	CFG    *float64 `json:"cfg,omitempty"`
	Steps  *int     `json:"steps,omitempty"`
	Frames *int     `json:"frames,omitempty"`
}

// Mode resolves the request mode by precedence. Exactly one mode runs per
// request regardless of how many flags the caller set.
func (r *JobRequest) Mode() Mode {
	switch {
	case r.Test:
		return ModeTest
	case r.Diagnose:
		return ModeDiagnose
	default:
		return ModeGenerate
	}
}
