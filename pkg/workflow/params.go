package workflow

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Validation bounds for numeric overrides. Values outside these ranges are
// rejected before any graph work happens.
const (
	MinSteps, MaxSteps   = 1, 100
	MinCFG, MaxCFG       = 0.0, 30.0
	MinFrames, MaxFrames = 1, 1000

	DefaultSteps  = 10
	DefaultCFG    = 2.0
	DefaultFrames = 81
)

// Params are the caller-supplied generation parameters after validation.
// Nil pointer fields mean "not supplied"; ApplyDefaults resolves them.
type Params struct {
	Seed   *int64
	Steps  *int
	CFG    *float64
	Frames *int

	// ImageName and EndImageName are filenames previously persisted into
	// the engine input directory. Binary payloads never enter the graph.
	ImageName    string
	EndImageName string
}

// Validate checks every supplied value against its declared range.
func (p *Params) Validate() error {
	if p.Seed != nil && *p.Seed < 0 {
		return fmt.Errorf("seed must be non-negative, got %d", *p.Seed)
	}
	if p.Steps != nil && (*p.Steps < MinSteps || *p.Steps > MaxSteps) {
		return fmt.Errorf("steps must be in [%d, %d], got %d", MinSteps, MaxSteps, *p.Steps)
	}
	if p.CFG != nil && (*p.CFG < MinCFG || *p.CFG > MaxCFG) {
		return fmt.Errorf("cfg must be in [%g, %g], got %g", MinCFG, MaxCFG, *p.CFG)
	}
	if p.Frames != nil && (*p.Frames < MinFrames || *p.Frames > MaxFrames) {
		return fmt.Errorf("frames must be in [%d, %d], got %d", MinFrames, MaxFrames, *p.Frames)
	}
	return nil
}

// ApplyDefaults fills unset fields. The seed defaults to the current clock
// so repeated requests without an explicit seed do not repeat outputs.
func (p *Params) ApplyDefaults(now time.Time) {
	if p.Seed == nil {
		s := now.Unix()
		p.Seed = &s
	}
	if p.Steps == nil {
		v := DefaultSteps
		p.Steps = &v
	}
	if p.CFG == nil {
		v := DefaultCFG
		p.CFG = &v
	}
	if p.Frames == nil {
		v := DefaultFrames
		p.Frames = &v
	}
}

// Overrides converts the params into the logical-parameter map consumed by
// Patch. Call Validate and ApplyDefaults first.
func (p *Params) Overrides() map[string]any {
	ov := map[string]any{}
	if p.Seed != nil {
		ov[ParamSeed] = *p.Seed
	}
	if p.Steps != nil {
		ov[ParamSteps] = *p.Steps
	}
	if p.CFG != nil {
		ov[ParamCFG] = *p.CFG
	}
	if p.Frames != nil {
		ov[ParamFrames] = *p.Frames
	}
	if p.ImageName != "" {
		ov[ParamImage] = p.ImageName
	}
	if p.EndImageName != "" {
		ov[ParamEndImage] = p.EndImageName
	}
	return ov
}

// SaveInputImage decodes a base64 image payload (optionally carrying a data
// URI prefix) and writes it into dir under name. It returns the bare
// filename, which is what LoadImage nodes expect.
func SaveInputImage(dir, name, payload string) (string, error) {
	if strings.TrimSpace(payload) == "" {
		return "", fmt.Errorf("image payload is empty")
	}
	if strings.HasPrefix(payload, "data:image") {
		if _, rest, ok := strings.Cut(payload, ","); ok {
			payload = rest
		}
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("decode image payload: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create input dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		return "", fmt.Errorf("write input image: %w", err)
	}
	return name, nil
}
