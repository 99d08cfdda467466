package comfy

import "encoding/json"

// QueueResponse is the engine's reply to a prompt submission.
//
// A successful submission carries a non-empty PromptID. Rejections carry an
// error object and optional per-node errors instead.
type QueueResponse struct {
	PromptID   string                     `json:"prompt_id"`
	Number     int                        `json:"number"`
	Error      *QueueError                `json:"error,omitempty"`
	NodeErrors map[string]json.RawMessage `json:"node_errors,omitempty"`
}

// QueueError describes a prompt rejection.
type QueueError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Details string `json:"details"`
}

// HistoryEntry is the per-prompt execution record returned by /history.
type HistoryEntry struct {
	Outputs map[string]NodeOutput `json:"outputs"`
}

// NodeOutput lists the files a node produced. VideoHelperSuite nodes report
// video files under "gifs"; native video nodes use "videos".
type NodeOutput struct {
	Videos []OutputFile `json:"videos,omitempty"`
	Gifs   []OutputFile `json:"gifs,omitempty"`
}

// OutputFile locates one produced file relative to the engine output dir.
type OutputFile struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// SystemStats is the subset of /system_stats the worker inspects.
type SystemStats struct {
	System  SystemInfo   `json:"system"`
	Devices []DeviceInfo `json:"devices"`
}

// SystemInfo reports engine and interpreter versions.
type SystemInfo struct {
	OS             string `json:"os"`
	ComfyUIVersion string `json:"comfyui_version"`
	PythonVersion  string `json:"python_version"`
}

// DeviceInfo reports one compute device.
type DeviceInfo struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	VRAMTotal      int64  `json:"vram_total"`
	VRAMFree       int64  `json:"vram_free"`
	TorchVRAMTotal int64  `json:"torch_vram_total"`
}

// Event is one message from the engine's WebSocket stream.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ExecutingData is the payload of "executing" events. A nil Node together
// with a matching PromptID marks the end of that prompt's execution.
type ExecutingData struct {
	Node     *string `json:"node"`
	PromptID string  `json:"prompt_id"`
}

// ExecutionErrorData is the payload of "execution_error" events.
type ExecutionErrorData struct {
	PromptID         string `json:"prompt_id"`
	NodeID           string `json:"node_id"`
	NodeType         string `json:"node_type"`
	ExceptionMessage string `json:"exception_message"`
	ExceptionType    string `json:"exception_type"`
}

// ProgressData is the payload of "progress" events.
type ProgressData struct {
	Value    int    `json:"value"`
	Max      int    `json:"max"`
	PromptID string `json:"prompt_id"`
	Node     string `json:"node"`
}
