package dispatcher

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tenexa/wanworker/pkg/comfy"
	"github.com/tenexa/wanworker/pkg/diagnostics"
	"github.com/tenexa/wanworker/pkg/tracker"
	"github.com/tenexa/wanworker/pkg/workflow"
)

type fakeEngine struct{ up bool }

func (f *fakeEngine) Ping(ctx context.Context, timeout time.Duration) bool { return f.up }

type fakeRunner struct {
	rec         *tracker.ExecutionRecord
	err         error
	calls       atomic.Int32
	entered     chan struct{}
	enteredOnce sync.Once
	release     chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, g workflow.Graph, timeout time.Duration) (*tracker.ExecutionRecord, error) {
	f.calls.Add(1)
	if f.entered != nil {
		f.enteredOnce.Do(func() { close(f.entered) })
	}
	if f.release != nil {
		<-f.release
	}
	return f.rec, f.err
}

type fakeReporter struct{ rep *diagnostics.Report }

func (f *fakeReporter) Collect(ctx context.Context) *diagnostics.Report { return f.rep }

type fakeLogs struct{ tail string }

func (f *fakeLogs) LogsTail(n int) string { return f.tail }

type fakeUploader struct{ url string }

func (f *fakeUploader) Upload(ctx context.Context, filePath, key string) (string, error) {
	return f.url, nil
}

func newTestDispatcher(t *testing.T, engine *fakeEngine, runner Runner, uploader Uploader) (*Dispatcher, Options) {
	t.Helper()
	store, err := workflow.NewStore()
	require.NoError(t, err)

	opts := Options{
		EngineRoot:     t.TempDir(),
		InputDir:       t.TempDir(),
		OutputDir:      t.TempDir(),
		VolumeRoot:     t.TempDir(),
		ReadyTimeout:   time.Second,
		ExecTimeout:    time.Minute,
		HandlerVersion: "test-1",
	}
	d := New(engine, store, runner, &fakeReporter{rep: &diagnostics.Report{HandlerVersion: "test-1"}},
		&fakeLogs{tail: "engine log tail"}, uploader, opts, zap.NewNop())
	return d, opts
}

func imagePayload() string {
	return base64.StdEncoding.EncodeToString([]byte("png-bytes"))
}

func writeArtifact(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "wan_00001.mp4")
	require.NoError(t, os.WriteFile(path, []byte("mp4"), 0o644))
	return path
}

func TestModePrecedence(t *testing.T) {
	cases := []struct {
		name string
		req  JobRequest
		want Mode
	}{
		{"test wins over everything", JobRequest{Test: true, Diagnose: true, ImageBase64: "x"}, ModeTest},
		{"diagnose wins over generate", JobRequest{Diagnose: true, ImageBase64: "x"}, ModeDiagnose},
		{"generate is the default", JobRequest{ImageBase64: "x"}, ModeGenerate},
		{"empty request is generate", JobRequest{}, ModeGenerate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.req.Mode())
		})
	}
}

func TestDispatch_OneModePerRequest(t *testing.T) {
	runner := &fakeRunner{}
	d, _ := newTestDispatcher(t, &fakeEngine{up: true}, runner, nil)

	out := d.Dispatch(context.Background(), &JobRequest{Test: true, Diagnose: true, ImageBase64: imagePayload()})
	res, ok := out.(*TestResult)
	require.True(t, ok, "test flag must select test mode, got %T", out)
	assert.Equal(t, "completed", res.Status)
	assert.Zero(t, runner.calls.Load(), "generate pipeline must not run")
}

func TestTestMode_HealthyEngine(t *testing.T) {
	d, opts := newTestDispatcher(t, &fakeEngine{up: true}, &fakeRunner{}, nil)

	start := time.Now()
	out := d.Dispatch(context.Background(), &JobRequest{Test: true})
	elapsed := time.Since(start)

	res := out.(*TestResult)
	assert.Equal(t, "completed", res.Status)
	assert.True(t, res.OK)
	assert.True(t, res.EngineUp)
	assert.True(t, res.VolumeMounted)
	assert.Equal(t, opts.EngineRoot, res.Paths.EngineRoot)
	assert.Equal(t, opts.OutputDir, res.Paths.OutputDir)
	assert.Equal(t, "test-1", res.HandlerVersion)
	assert.Less(t, elapsed, time.Second, "test mode must answer sub-second against a healthy engine")
}

func TestDiagnoseMode(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeEngine{up: false}, &fakeRunner{}, nil)

	out := d.Dispatch(context.Background(), &JobRequest{Diagnose: true})
	res := out.(*DiagnoseResult)
	assert.Equal(t, "completed", res.Status)
	assert.Equal(t, "test-1", res.Report.HandlerVersion)
}

func TestGenerate_EngineNotReady(t *testing.T) {
	runner := &fakeRunner{}
	d, _ := newTestDispatcher(t, &fakeEngine{up: false}, runner, nil)
	d.opts.ReadyTimeout = time.Millisecond

	out := d.Dispatch(context.Background(), &JobRequest{ImageBase64: imagePayload()})
	env := out.(Envelope)
	assert.Equal(t, "failed", env.Status)
	assert.Equal(t, CodeComfyNotReady, env.ErrorCode)
	assert.Equal(t, "engine log tail", env.LogsTail)
	assert.Zero(t, runner.calls.Load())
}

func TestGenerate_NoImage(t *testing.T) {
	runner := &fakeRunner{}
	d, _ := newTestDispatcher(t, &fakeEngine{up: true}, runner, nil)

	out := d.Dispatch(context.Background(), &JobRequest{})
	env := out.(Envelope)
	assert.Equal(t, CodeNoImage, env.ErrorCode)
	assert.Zero(t, runner.calls.Load())
}

func TestGenerate_FLF2VRequiresEndImage(t *testing.T) {
	runner := &fakeRunner{}
	d, _ := newTestDispatcher(t, &fakeEngine{up: true}, runner, nil)

	out := d.Dispatch(context.Background(), &JobRequest{
		Workflow:    workflow.TemplateFLF2V,
		ImageBase64: imagePayload(),
	})
	env := out.(Envelope)
	assert.Equal(t, CodeNoEndImage, env.ErrorCode)
	assert.Zero(t, runner.calls.Load(), "missing end image must fail before submission")
}

func TestGenerate_UnknownTemplate(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeEngine{up: true}, &fakeRunner{}, nil)

	out := d.Dispatch(context.Background(), &JobRequest{
		Workflow:    "wan21_legacy",
		ImageBase64: imagePayload(),
	})
	env := out.(Envelope)
	assert.Equal(t, CodeUnknownTemplate, env.ErrorCode)
}

func TestGenerate_Success(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir)
	seed := int64(42)
	runner := &fakeRunner{rec: &tracker.ExecutionRecord{
		JobID:        "job-1",
		Status:       tracker.StatusDone,
		ArtifactPath: path,
	}}
	d, opts := newTestDispatcher(t, &fakeEngine{up: true}, runner, nil)

	out := d.Dispatch(context.Background(), &JobRequest{
		ImageBase64: imagePayload(),
		Seed:        &seed,
	})
	res, ok := out.(*GenerateResult)
	require.True(t, ok, "expected success payload, got %#v", out)

	assert.Equal(t, "completed", res.Status)
	assert.Equal(t, int64(42), res.Seed)
	assert.Equal(t, 24, res.FPS)
	assert.Equal(t, workflow.DefaultFrames, res.Frames)
	assert.InDelta(t, 3.38, res.DurationSec, 1e-9)
	assert.Equal(t, "wan_00001.mp4", res.Metadata.Filename)
	assert.Empty(t, res.VideoURL)

	decoded, err := base64.StdEncoding.DecodeString(res.VideoBase64)
	require.NoError(t, err)
	assert.Equal(t, "mp4", string(decoded))

	saved, err := os.ReadFile(filepath.Join(opts.InputDir, "tenexa_input.png"))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(saved))
}

func TestGenerate_UploadsWhenBucketConfigured(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir)
	runner := &fakeRunner{rec: &tracker.ExecutionRecord{
		JobID:        "job-2",
		Status:       tracker.StatusDone,
		ArtifactPath: path,
	}}
	d, _ := newTestDispatcher(t, &fakeEngine{up: true}, runner,
		&fakeUploader{url: "https://bucket.example.com/outputs/job-2/wan_00001.mp4"})

	out := d.Dispatch(context.Background(), &JobRequest{ImageBase64: imagePayload()})
	res := out.(*GenerateResult)
	assert.Equal(t, "https://bucket.example.com/outputs/job-2/wan_00001.mp4", res.VideoURL)
	assert.Empty(t, res.VideoBase64)
}

func TestGenerate_TrackerFailures(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode string
		wantTail bool
	}{
		{"timeout", fmt.Errorf("%w after 1m", tracker.ErrTimeout), CodeTimeout, true},
		{"no output", tracker.ErrNoOutput, CodeNoOutput, false},
		{"queue rejected", fmt.Errorf("%w: status 400", comfy.ErrQueueRejected), CodeQueueFailed, false},
		{"stream lost", fmt.Errorf("%w: connection reset", tracker.ErrStreamLost), CodeGenerationError, true},
		{"canceled", fmt.Errorf("%w: context canceled", tracker.ErrCanceled), CodeGenerationError, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := &fakeRunner{err: tc.err}
			d, _ := newTestDispatcher(t, &fakeEngine{up: true}, runner, nil)

			out := d.Dispatch(context.Background(), &JobRequest{ImageBase64: imagePayload()})
			env := out.(Envelope)
			assert.Equal(t, "failed", env.Status)
			assert.Equal(t, tc.wantCode, env.ErrorCode)
			if tc.wantTail {
				assert.Equal(t, "engine log tail", env.LogsTail)
			} else {
				assert.Empty(t, env.LogsTail)
			}
		})
	}
}

func TestGenerate_InvalidParams(t *testing.T) {
	runner := &fakeRunner{}
	d, _ := newTestDispatcher(t, &fakeEngine{up: true}, runner, nil)

	steps := 500
	out := d.Dispatch(context.Background(), &JobRequest{
		ImageBase64: imagePayload(),
		Steps:       &steps,
	})
	env := out.(Envelope)
	assert.Equal(t, CodeGenerationError, env.ErrorCode)
	assert.Zero(t, runner.calls.Load())
}

func TestGenerate_BusyGuard(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir)
	runner := &fakeRunner{
		rec: &tracker.ExecutionRecord{
			JobID:        "job-3",
			Status:       tracker.StatusDone,
			ArtifactPath: path,
		},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	d, _ := newTestDispatcher(t, &fakeEngine{up: true}, runner, nil)

	first := make(chan any, 1)
	go func() {
		first <- d.Dispatch(context.Background(), &JobRequest{ImageBase64: imagePayload()})
	}()

	select {
	case <-runner.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first generate never reached the runner")
	}

	out := d.Dispatch(context.Background(), &JobRequest{ImageBase64: imagePayload()})
	env, ok := out.(Envelope)
	require.True(t, ok)
	assert.Equal(t, CodeBusy, env.ErrorCode)

	// Test and diagnose stay admitted while a generation is in flight.
	_, ok = d.Dispatch(context.Background(), &JobRequest{Test: true}).(*TestResult)
	assert.True(t, ok)
	_, ok = d.Dispatch(context.Background(), &JobRequest{Diagnose: true}).(*DiagnoseResult)
	assert.True(t, ok)

	close(runner.release)
	res := <-first
	_, ok = res.(*GenerateResult)
	assert.True(t, ok, "first generate must still complete: %#v", res)

	// Guard releases once the in-flight job resolves.
	out = d.Dispatch(context.Background(), &JobRequest{ImageBase64: imagePayload()})
	_, ok = out.(*GenerateResult)
	assert.True(t, ok)
}
