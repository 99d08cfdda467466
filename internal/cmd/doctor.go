package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tenexa/wanworker/internal/config"
	"github.com/tenexa/wanworker/internal/observability"
	"github.com/tenexa/wanworker/pkg/comfy"
	"github.com/tenexa/wanworker/pkg/diagnostics"
	"github.com/tenexa/wanworker/pkg/supervisor"
	"github.com/tenexa/wanworker/pkg/workflow"
)

var doctorFormat string

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks against the engine",
	Long: `Run the full diagnostics pass: engine reachability, disk and volume
state, model inventory, node-class availability, and template requirement
checks. The report prints even when the engine is down.

Examples:
  wanworker doctor                 # JSON report
  wanworker doctor --format yaml   # YAML report`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorFormat, "format", "json", "Output format (json, yaml)")
}

// tailReader adapts the on-disk engine log to the collector without a
// running supervisor.
type tailReader struct{ path string }

func (t tailReader) LogsTail(n int) string { return supervisor.TailFile(t.path, n) }

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(rootConfig)
	if err != nil {
		return err
	}

	store, err := workflow.NewStore()
	if err != nil {
		return err
	}

	collector := diagnostics.NewCollector(
		comfy.NewClient(cfg.Engine.Endpoint()),
		store,
		tailReader{path: cfg.Engine.LogPath},
		diagnostics.Options{
			EngineRoot:     cfg.Engine.Root,
			InputDir:       cfg.Engine.InputDir,
			OutputDir:      cfg.Engine.OutputDir,
			VolumeRoot:     cfg.Volume.Root,
			HandlerVersion: cfg.HandlerVersion,
		},
		observability.CLILogger,
	)

	report := collector.Collect(cmd.Context())

	switch doctorFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		return yaml.NewEncoder(os.Stdout).Encode(report)
	default:
		return fmt.Errorf("unknown format %q (expected json or yaml)", doctorFormat)
	}
}
