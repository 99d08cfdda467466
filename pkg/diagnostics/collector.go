package diagnostics

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tenexa/wanworker/pkg/workflow"
)

// Model inventory categories scanned beneath <engine root>/models.
var modelCategories = []string{
	"diffusion_models",
	"loras",
	"vae",
	"text_encoders",
	"clip_vision",
}

// EngineProbe is the slice of the engine client the collector needs.
type EngineProbe interface {
	Ping(ctx context.Context, timeout time.Duration) bool
	ObjectInfo(ctx context.Context) (map[string]json.RawMessage, error)
}

// TemplateSource provides the graph templates to cross-check.
type TemplateSource interface {
	Names() []string
	Load(name string) (workflow.Graph, error)
}

// LogSource provides the engine log tail for unreachable-engine reports.
type LogSource interface {
	LogsTail(n int) string
}

// Collector assembles diagnostic reports.
type Collector struct {
	engine    EngineProbe
	templates TemplateSource
	logs      LogSource
	logger    *zap.Logger

	engineRoot string
	inputDir   string
	outputDir  string
	volumeRoot string
	version    string
}

// Options configures a Collector.
type Options struct {
	EngineRoot     string
	InputDir       string
	OutputDir      string
	VolumeRoot     string
	HandlerVersion string
}

// NewCollector wires a collector. logs may be nil when no engine log sink
// exists (externally managed engine).
func NewCollector(engine EngineProbe, templates TemplateSource, logs LogSource, opts Options, logger *zap.Logger) *Collector {
	return &Collector{
		engine:     engine,
		templates:  templates,
		logs:       logs,
		logger:     logger,
		engineRoot: opts.EngineRoot,
		inputDir:   opts.InputDir,
		outputDir:  opts.OutputDir,
		volumeRoot: opts.VolumeRoot,
		version:    opts.HandlerVersion,
	}
}

// Collect builds a full report. It never returns an error: each sub-probe
// is independently wrapped so one failure degrades only its own field.
func (c *Collector) Collect(ctx context.Context) *Report {
	rep := &Report{
		HandlerVersion: c.version,
		Paths: Paths{
			EngineRoot: c.engineRoot,
			InputDir:   c.inputDir,
			OutputDir:  c.outputDir,
		},
	}

	rep.Disk = Usage(c.engineRoot)
	rep.VolumeMounted = c.volumeMounted()
	if rep.VolumeMounted {
		rep.Paths.VolumeRoot = c.volumeRoot
	}

	start := time.Now()
	rep.EngineReachable = c.engine.Ping(ctx, 5*time.Second)
	if rep.EngineReachable {
		rep.EngineElapsed = round2(time.Since(start).Seconds())
	} else {
		rep.EngineError = "engine not responding"
		if c.logs != nil {
			rep.LogsTail = c.logs.LogsTail(40)
		}
	}

	rep.Models = c.listModels()

	if rep.EngineReachable {
		rep.NodeCheck = c.checkNodes(ctx)
	} else {
		rep.NodeCheck = NodeCheck{RequiredMissing: []string{}, Error: "skipped: engine unreachable"}
	}

	rep.Templates = c.checkTemplates(rep.Models, rep.NodeCheck)
	return rep
}

func (c *Collector) volumeMounted() bool {
	info, err := os.Stat(c.volumeRoot)
	return err == nil && info.IsDir()
}

// listModels inventories every model category plus the volume directories.
// A category that cannot be read shows a single error marker entry so the
// failure stays visible in the report.
func (c *Collector) listModels() map[string][]string {
	models := make(map[string][]string, len(modelCategories)+2)

	for _, cat := range modelCategories {
		models[cat] = listFiles(filepath.Join(c.engineRoot, "models", cat))
	}
	if c.volumeMounted() {
		models["volume_models"] = listFiles(filepath.Join(c.volumeRoot, "models"))
		models["volume_loras"] = listFiles(filepath.Join(c.volumeRoot, "loras"))
	}
	return models
}

func listFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}
		}
		return []string{"Error: " + err.Error()}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func (c *Collector) checkNodes(ctx context.Context) NodeCheck {
	info, err := c.engine.ObjectInfo(ctx)
	if err != nil {
		c.logger.Warn("object_info probe failed", zap.Error(err))
		return NodeCheck{RequiredMissing: []string{}, Error: err.Error()}
	}

	check := NodeCheck{
		TotalNodes:        len(info),
		RequiredAvailable: []string{},
		RequiredMissing:   []string{},
	}
	for _, class := range RequiredNodeClasses {
		if _, ok := info[class]; ok {
			check.RequiredAvailable = append(check.RequiredAvailable, class)
		} else {
			check.RequiredMissing = append(check.RequiredMissing, class)
		}
	}
	check.OK = len(check.RequiredMissing) == 0
	return check
}

// checkTemplates cross-references each template's referenced model files
// and node classes against the live inventories.
func (c *Collector) checkTemplates(models map[string][]string, nodes NodeCheck) map[string]TemplateCheck {
	checks := make(map[string]TemplateCheck)

	available := make(map[string]struct{})
	for _, class := range nodes.RequiredAvailable {
		available[class] = struct{}{}
	}

	for _, name := range c.templates.Names() {
		g, err := c.templates.Load(name)
		if err != nil {
			checks[name] = TemplateCheck{
				Error:            err.Error(),
				MissingModels:    []string{},
				MissingLoras:     []string{},
				MissingNodeTypes: []string{},
			}
			continue
		}

		check := TemplateCheck{
			Exists:           true,
			Nodes:            len(g),
			MissingModels:    []string{},
			MissingLoras:     []string{},
			MissingNodeTypes: []string{},
		}

		allLoras := append(append([]string{}, models["loras"]...), models["volume_loras"]...)

		for _, id := range g.NodeIDs() {
			node := g[id]

			if strings.Contains(node.ClassType, "ModelLoader") {
				if ref, ok := node.Inputs["model"].(string); ok && ref != "" {
					if !contains(models["diffusion_models"], ref) {
						check.MissingModels = append(check.MissingModels, ref)
					}
				}
			}

			if strings.Contains(node.ClassType, "LoraSelect") || strings.Contains(node.ClassType, "LoRA") {
				for field, value := range node.Inputs {
					ref, ok := value.(string)
					if !ok || ref == "" || ref == "None" {
						continue
					}
					if strings.Contains(strings.ToLower(field), "lora") && !contains(allLoras, ref) {
						check.MissingLoras = append(check.MissingLoras, ref)
					}
				}
			}

			// Node-class availability is only meaningful when the engine
			// answered the object_info probe.
			if nodes.Error == "" && !nodes.OK {
				if _, ok := available[node.ClassType]; !ok && isRequiredClass(node.ClassType) {
					if !contains(check.MissingNodeTypes, node.ClassType) {
						check.MissingNodeTypes = append(check.MissingNodeTypes, node.ClassType)
					}
				}
			}
		}

		sort.Strings(check.MissingModels)
		sort.Strings(check.MissingLoras)
		sort.Strings(check.MissingNodeTypes)
		checks[name] = check
	}
	return checks
}

func isRequiredClass(class string) bool {
	return contains(RequiredNodeClasses, class)
}

func contains(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}
