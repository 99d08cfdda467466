// Package diagnostics produces a full health snapshot of the worker and its
// engine without ever failing outright: every sub-probe degrades its own
// report field and the report is always returned.
package diagnostics

// Report is the diagnose-mode response payload. Fields are recomputed on
// every call; nothing is cached between requests.
type Report struct {
	EngineReachable bool    `json:"engine_reachable"`
	EngineElapsed   float64 `json:"engine_elapsed_sec,omitempty"`
	EngineError     string  `json:"engine_error,omitempty"`
	LogsTail        string  `json:"logs_tail,omitempty"`

	Disk          DiskUsage `json:"disk_usage"`
	VolumeMounted bool      `json:"volume_mounted"`
	Paths         Paths     `json:"paths"`

	Models    map[string][]string      `json:"models,omitempty"`
	NodeCheck NodeCheck                `json:"node_check"`
	Templates map[string]TemplateCheck `json:"template_checks,omitempty"`

	HandlerVersion string `json:"handler_version"`
}

// Paths reports the resolved filesystem layout.
type Paths struct {
	EngineRoot string `json:"engine_root"`
	InputDir   string `json:"input_dir"`
	OutputDir  string `json:"output_dir"`
	VolumeRoot string `json:"volume_root,omitempty"`
}

// DiskUsage reports capacity of the engine root filesystem in GB.
type DiskUsage struct {
	TotalGB float64 `json:"total_gb"`
	UsedGB  float64 `json:"used_gb"`
	FreeGB  float64 `json:"free_gb"`
	Human   string  `json:"free_human,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// NodeCheck reports engine node-class availability against the classes the
// templates depend on.
type NodeCheck struct {
	OK                bool     `json:"ok"`
	TotalNodes        int      `json:"total_nodes,omitempty"`
	RequiredAvailable []string `json:"required_available,omitempty"`
	RequiredMissing   []string `json:"required_missing"`
	Error             string   `json:"error,omitempty"`
}

// TemplateCheck reports one template's missing requirements. Missing lists
// are always present, even when empty, so callers never have to guess
// whether a check ran.
type TemplateCheck struct {
	Exists           bool     `json:"exists"`
	Nodes            int      `json:"nodes,omitempty"`
	MissingModels    []string `json:"missing_models"`
	MissingLoras     []string `json:"missing_loras"`
	MissingNodeTypes []string `json:"missing_node_types"`
	Error            string   `json:"error,omitempty"`
}

// RequiredNodeClasses are the engine node classes every deployment must
// have installed for the templates to execute.
var RequiredNodeClasses = []string{
	"WanVideoModelLoader",
	"WanVideoSampler",
	"WanVideoImageToVideoEncode",
	"LoadImage",
	"VHS_VideoCombine",
}
