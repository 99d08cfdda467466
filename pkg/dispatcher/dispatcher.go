// Package dispatcher routes inbound jobs to one of three handlers: a fast
// warmup probe, a full diagnostics report, or video generation. Every
// request runs exactly one handler and always yields a JSON-able payload;
// failures are folded into envelopes with stable error codes.
package dispatcher

import (
	"context"
	"math"
	"os"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/tenexa/wanworker/pkg/artifact"
	"github.com/tenexa/wanworker/pkg/diagnostics"
	"github.com/tenexa/wanworker/pkg/tracker"
	"github.com/tenexa/wanworker/pkg/workflow"
)

const (
	inputImageName    = "tenexa_input.png"
	endImageName      = "tenexa_end.png"
	testReadyTimeout  = 30 * time.Second
	engineProbeWindow = 5 * time.Second
)

// EnginePinger is the slice of the engine client the dispatcher needs.
type EnginePinger interface {
	Ping(ctx context.Context, timeout time.Duration) bool
}

// Runner executes a patched graph to a terminal state.
type Runner interface {
	Run(ctx context.Context, g workflow.Graph, timeout time.Duration) (*tracker.ExecutionRecord, error)
}

// Reporter produces the diagnose-mode report.
type Reporter interface {
	Collect(ctx context.Context) *diagnostics.Report
}

// Uploader delivers an artifact to remote storage and returns its URL.
type Uploader interface {
	Upload(ctx context.Context, filePath, key string) (string, error)
}

// Options configure a Dispatcher.
type Options struct {
	EngineRoot     string
	InputDir       string
	OutputDir      string
	VolumeRoot     string
	ReadyTimeout   time.Duration
	ExecTimeout    time.Duration
	HandlerVersion string
}

// Dispatcher owns the per-worker job pipeline. One generate job runs at a
// time; overlapping generate requests are rejected with BUSY while test and
// diagnose requests are always admitted.
type Dispatcher struct {
	engine    EnginePinger
	templates *workflow.Store
	runner    Runner
	reporter  Reporter
	logs      diagnostics.LogSource
	uploader  Uploader
	opts      Options
	logger    *zap.Logger

	generating atomic.Bool
}

// New wires a dispatcher. logs and uploader may be nil: no log sink means
// empty log tails, no uploader means inline base64 delivery.
func New(engine EnginePinger, templates *workflow.Store, runner Runner, reporter Reporter,
	logs diagnostics.LogSource, uploader Uploader, opts Options, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		engine:    engine,
		templates: templates,
		runner:    runner,
		reporter:  reporter,
		logs:      logs,
		uploader:  uploader,
		opts:      opts,
		logger:    logger,
	}
}

// TestResult is the test-mode payload: a cheap liveness and environment
// snapshot that warms the worker without touching the GPU.
type TestResult struct {
	Status         string            `json:"status"`
	OK             bool              `json:"ok"`
	EngineUp       bool              `json:"comfyui_up"`
	Paths          diagnostics.Paths `json:"paths"`
	DiskFreeGB     float64           `json:"disk_free_gb"`
	VolumeMounted  bool              `json:"volume_mounted"`
	HandlerVersion string            `json:"handler_version"`
}

// DiagnoseResult wraps the diagnostics report with the completion status.
type DiagnoseResult struct {
	Status string `json:"status"`
	*diagnostics.Report
}

// GenerateResult is the successful generation payload. Exactly one of
// VideoBase64 and VideoURL is set, depending on whether a bucket is
// configured.
type GenerateResult struct {
	Status         string            `json:"status"`
	VideoBase64    string            `json:"video_base64,omitempty"`
	VideoURL       string            `json:"video_url,omitempty"`
	Seed           int64             `json:"seed"`
	FPS            int               `json:"fps"`
	Frames         int               `json:"frames"`
	DurationSec    float64           `json:"duration_sec"`
	Metadata       artifact.Metadata `json:"metadata"`
	HandlerVersion string            `json:"handler_version"`
}

// Dispatch runs the request's mode and returns its payload. Failures come
// back as Envelope values, never as Go errors: the transport always has
// something to serialize.
func (d *Dispatcher) Dispatch(ctx context.Context, req *JobRequest) any {
	mode := req.Mode()
	d.logger.Info("job received", zap.String("mode", string(mode)))

	switch mode {
	case ModeTest:
		return d.handleTest(ctx)
	case ModeDiagnose:
		return d.handleDiagnose(ctx)
	default:
		return d.handleGenerate(ctx, req)
	}
}

func (d *Dispatcher) handleTest(ctx context.Context) *TestResult {
	wait := d.opts.ReadyTimeout
	if wait > testReadyTimeout {
		wait = testReadyTimeout
	}
	up := d.awaitEngine(ctx, wait)

	return &TestResult{
		Status:   "completed",
		OK:       up,
		EngineUp: up,
		Paths: diagnostics.Paths{
			EngineRoot: d.opts.EngineRoot,
			InputDir:   d.opts.InputDir,
			OutputDir:  d.opts.OutputDir,
			VolumeRoot: d.opts.VolumeRoot,
		},
		DiskFreeGB:     diagnostics.Usage(d.opts.EngineRoot).FreeGB,
		VolumeMounted:  dirExists(d.opts.VolumeRoot),
		HandlerVersion: d.opts.HandlerVersion,
	}
}

func (d *Dispatcher) handleDiagnose(ctx context.Context) *DiagnoseResult {
	return &DiagnoseResult{
		Status: "completed",
		Report: d.reporter.Collect(ctx),
	}
}

func (d *Dispatcher) handleGenerate(ctx context.Context, req *JobRequest) any {
	if !d.generating.CompareAndSwap(false, true) {
		return jobErrorf(CodeBusy, "a generation is already in progress").Envelope()
	}
	defer d.generating.Store(false)

	if !d.awaitEngine(ctx, d.opts.ReadyTimeout) {
		e := jobErrorf(CodeComfyNotReady, "engine not responding after %s", d.opts.ReadyTimeout)
		e.LogsTail = d.logsTail()
		return e.Envelope()
	}

	if req.ImageBase64 == "" {
		return jobErrorf(CodeNoImage, "missing required parameter: image_base64").Envelope()
	}

	params := workflow.Params{
		Seed:   req.Seed,
		CFG:    req.CFG,
		Steps:  req.Steps,
		Frames: req.Frames,
	}
	if err := params.Validate(); err != nil {
		return classify(err).Envelope()
	}

	name, err := workflow.SaveInputImage(d.opts.InputDir, inputImageName, req.ImageBase64)
	if err != nil {
		return classify(err).Envelope()
	}
	params.ImageName = name

	templateName := req.Workflow
	if templateName == "" {
		templateName = workflow.TemplateI2V
	}
	if templateName == workflow.TemplateFLF2V {
		if req.EndImageBase64 == "" {
			return jobErrorf(CodeNoEndImage, "flf2v workflow requires end_image_base64").Envelope()
		}
		endName, err := workflow.SaveInputImage(d.opts.InputDir, endImageName, req.EndImageBase64)
		if err != nil {
			return classify(err).Envelope()
		}
		params.EndImageName = endName
	}

	graph, err := d.templates.Load(templateName)
	if err != nil {
		return classify(err).Envelope()
	}

	params.ApplyDefaults(time.Now())
	patched, err := workflow.Patch(graph, params.Overrides())
	if err != nil {
		return classify(err).Envelope()
	}

	d.logger.Info("starting generation",
		zap.String("template", templateName),
		zap.Int64("seed", *params.Seed),
		zap.Int("steps", *params.Steps),
		zap.Float64("cfg", *params.CFG),
		zap.Int("frames", *params.Frames))

	rec, err := d.runner.Run(ctx, patched, d.opts.ExecTimeout)
	if err != nil {
		e := classify(err)
		if e.Code == CodeTimeout || e.Code == CodeGenerationError {
			e.LogsTail = d.logsTail()
		}
		return e.Envelope()
	}

	md, err := artifact.Stat(rec.ArtifactPath)
	if err != nil {
		return classify(err).Envelope()
	}

	fps := workflow.FPS(patched)
	result := &GenerateResult{
		Status:         "completed",
		Seed:           *params.Seed,
		FPS:            fps,
		Frames:         *params.Frames,
		DurationSec:    math.Round(float64(*params.Frames)/float64(fps)*100) / 100,
		Metadata:       md,
		HandlerVersion: d.opts.HandlerVersion,
	}

	if d.uploader != nil {
		url, err := d.uploader.Upload(ctx, rec.ArtifactPath, artifact.ObjectKey(rec.JobID, md.Filename))
		if err != nil {
			return classify(err).Envelope()
		}
		result.VideoURL = url
	} else {
		encoded, err := artifact.EncodeBase64(rec.ArtifactPath)
		if err != nil {
			return classify(err).Envelope()
		}
		result.VideoBase64 = encoded
	}

	d.logger.Info("generation complete",
		zap.String("job_id", rec.JobID),
		zap.String("artifact", md.Filename),
		zap.Int64("size_bytes", md.SizeBytes))
	return result
}

// awaitEngine polls the liveness endpoint until the engine answers or the
// window closes. A healthy engine returns on the first probe.
func (d *Dispatcher) awaitEngine(ctx context.Context, window time.Duration) bool {
	deadline := time.Now().Add(window)
	bo := backoff.NewConstantBackOff(time.Second)
	for {
		if d.engine.Ping(ctx, engineProbeWindow) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(bo.NextBackOff()):
		}
	}
}

func (d *Dispatcher) logsTail() string {
	if d.logs == nil {
		return ""
	}
	return d.logs.LogsTail(80)
}

func dirExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
