package tracker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/tenexa/wanworker/pkg/comfy"
)

// resolveArtifact locates the video produced for promptID. The primary
// source is the engine's execution history; when history is silent, the
// newest MP4 under the output dir is taken as a fallback, since some VHS
// builds record outputs inconsistently. Nothing found after a completion
// event is ErrNoOutput.
func (t *Tracker) resolveArtifact(ctx context.Context, promptID string) (string, error) {
	entry, err := t.client.History(ctx, promptID)
	if err != nil {
		return "", fmt.Errorf("fetch history: %w", err)
	}

	if entry != nil {
		if path := t.artifactFromHistory(entry.Outputs); path != "" {
			return path, nil
		}
	}

	if path := t.newestMP4(); path != "" {
		t.logger.Warn("artifact missing from history, using newest output file",
			zap.String("prompt_id", promptID),
			zap.String("path", path))
		return path, nil
	}
	return "", ErrNoOutput
}

func (t *Tracker) artifactFromHistory(outputs map[string]comfy.NodeOutput) string {
	for _, nodeOutputs := range outputs {
		files := append(append([]comfy.OutputFile{}, nodeOutputs.Videos...), nodeOutputs.Gifs...)
		for _, f := range files {
			if f.Filename == "" {
				continue
			}
			path := filepath.Join(t.outputDir, f.Subfolder, f.Filename)
			if !hasVideoExt(path) {
				continue
			}
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// newestMP4 scans the output tree for the most recently modified MP4.
func (t *Tracker) newestMP4() string {
	matches, err := doublestar.Glob(os.DirFS(t.outputDir), "**/*.mp4")
	if err != nil {
		return ""
	}

	var newest string
	var newestMod time.Time
	for _, rel := range matches {
		full := filepath.Join(t.outputDir, rel)
		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			continue
		}
		if info.ModTime().After(newestMod) {
			newest = full
			newestMod = info.ModTime()
		}
	}
	return newest
}

func hasVideoExt(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".gif":
		return true
	}
	return false
}
