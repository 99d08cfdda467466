package workflow

// Well-known node identifiers shared by both Wan 2.2 templates. The graphs
// are authored so these IDs stay stable across template revisions; the
// binding table below is versioned together with the template files.
const (
	NodeLoadImage    = "244" // LoadImage, start frame
	NodeLoadEndImage = "617" // LoadImage, end frame (flf2v only)
	NodeI2VEncode    = "541" // WanVideoImageToVideoEncode
	NodeSamplerHigh  = "220" // WanVideoSampler, high-noise stage
	NodeSamplerLow   = "540" // WanVideoSampler, low-noise stage
	NodeVideoCombine = "131" // VHS_VideoCombine, video output
)

// BindingTableVersion identifies the logical-parameter mapping revision.
const BindingTableVersion = 1

// Target addresses one node input field.
type Target struct {
	NodeID string
	Field  string
}

// Logical parameter names accepted as overrides.
const (
	ParamSeed     = "seed"
	ParamCFG      = "cfg"
	ParamSteps    = "steps"
	ParamFrames   = "frames"
	ParamImage    = "image"
	ParamEndImage = "end_image"
)

// bindingTable maps each logical parameter to the node/field pairs it
// rewrites. Seed and cfg fan out to both sampler stages so the dual-stage
// run stays coherent; steps only drives the high-noise stage, which fixes
// the step split for the second stage.
var bindingTable = map[string][]Target{
	ParamSeed: {
		{NodeID: NodeSamplerHigh, Field: "seed"},
		{NodeID: NodeSamplerLow, Field: "seed"},
	},
	ParamCFG: {
		{NodeID: NodeSamplerHigh, Field: "cfg"},
		{NodeID: NodeSamplerLow, Field: "cfg"},
	},
	ParamSteps: {
		{NodeID: NodeSamplerHigh, Field: "steps"},
	},
	ParamFrames: {
		{NodeID: NodeI2VEncode, Field: "num_frames"},
	},
	ParamImage: {
		{NodeID: NodeLoadImage, Field: "image"},
	},
	ParamEndImage: {
		{NodeID: NodeLoadEndImage, Field: "image"},
	},
}

// Targets returns the binding targets for a logical parameter. Unknown
// parameters return ok=false and are ignored by the patcher.
func Targets(param string) ([]Target, bool) {
	t, ok := bindingTable[param]
	return t, ok
}

// FPS reads the output frame rate from the video combine node, falling back
// to 24 when the node or field is absent.
func FPS(g Graph) int {
	node, ok := g[NodeVideoCombine]
	if !ok {
		return 24
	}
	switch v := node.Inputs["frame_rate"].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	}
	return 24
}
