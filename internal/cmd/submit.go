package cmd

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tenexa/wanworker/internal/observability"
	"github.com/tenexa/wanworker/pkg/dispatcher"
)

var (
	submitServer   string
	submitImage    string
	submitEndImage string
	submitWorkflow string
	submitOutput   string
	submitSeed     int64
	submitSteps    int
	submitCFG      float64
	submitFrames   int
	submitTimeout  time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Send a generation job to a running worker",
	Long: `Send a generation job to a running worker and save the resulting
video. Reads the input image from disk, posts it to the worker's /run
endpoint, and decodes the returned MP4.

Examples:
  wanworker submit --image frame.png --output out.mp4
  wanworker submit --image a.png --end-image b.png --workflow flf2v --frames 121`,
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().StringVar(&submitServer, "server", "http://127.0.0.1:8000", "Worker base URL")
	submitCmd.Flags().StringVar(&submitImage, "image", "", "Input image path (required)")
	submitCmd.Flags().StringVar(&submitEndImage, "end-image", "", "End image path (flf2v only)")
	submitCmd.Flags().StringVar(&submitWorkflow, "workflow", "", "Workflow template (wan22_i2v, flf2v)")
	submitCmd.Flags().StringVar(&submitOutput, "output", "output.mp4", "Where to save the generated video")
	submitCmd.Flags().Int64Var(&submitSeed, "seed", -1, "Generation seed (-1 for random)")
	submitCmd.Flags().IntVar(&submitSteps, "steps", 0, "Sampling steps (0 for default)")
	submitCmd.Flags().Float64Var(&submitCFG, "cfg", 0, "CFG scale (0 for default)")
	submitCmd.Flags().IntVar(&submitFrames, "frames", 0, "Frame count (0 for default)")
	submitCmd.Flags().DurationVar(&submitTimeout, "timeout", 15*time.Minute, "Request timeout")
	_ = submitCmd.MarkFlagRequired("image")
}

func encodeImageFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	logger := observability.CLILogger

	req := &dispatcher.JobRequest{Workflow: submitWorkflow}

	img, err := encodeImageFile(submitImage)
	if err != nil {
		return err
	}
	req.ImageBase64 = img

	if submitEndImage != "" {
		end, err := encodeImageFile(submitEndImage)
		if err != nil {
			return err
		}
		req.EndImageBase64 = end
	}
	if submitSeed >= 0 {
		req.Seed = &submitSeed
	}
	if submitSteps > 0 {
		req.Steps = &submitSteps
	}
	if submitCFG > 0 {
		req.CFG = &submitCFG
	}
	if submitFrames > 0 {
		req.Frames = &submitFrames
	}

	body, err := json.Marshal(map[string]any{"input": req})
	if err != nil {
		return err
	}

	logger.Info("submitting job",
		zap.String("server", submitServer),
		zap.String("image", submitImage),
		zap.String("workflow", submitWorkflow))

	client := &http.Client{Timeout: submitTimeout}
	resp, err := client.Post(submitServer+"/run", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post job: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("worker answered %d: %s", resp.StatusCode, raw)
	}

	var result struct {
		Status       string  `json:"status"`
		ErrorCode    string  `json:"error_code"`
		ErrorMessage string  `json:"error_message"`
		LogsTail     string  `json:"logs_tail"`
		VideoBase64  string  `json:"video_base64"`
		VideoURL     string  `json:"video_url"`
		Seed         int64   `json:"seed"`
		FPS          int     `json:"fps"`
		Frames       int     `json:"frames"`
		DurationSec  float64 `json:"duration_sec"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if result.Status != "completed" {
		if result.LogsTail != "" {
			logger.Info("engine logs", zap.String("tail", result.LogsTail))
		}
		return fmt.Errorf("job failed: %s: %s", result.ErrorCode, result.ErrorMessage)
	}

	logger.Info("job completed",
		zap.Int64("seed", result.Seed),
		zap.Int("fps", result.FPS),
		zap.Int("frames", result.Frames),
		zap.Float64("duration_sec", result.DurationSec))

	if result.VideoURL != "" {
		logger.Info("video available at bucket URL", zap.String("url", result.VideoURL))
		return nil
	}

	video, err := base64.StdEncoding.DecodeString(result.VideoBase64)
	if err != nil {
		return fmt.Errorf("decode video: %w", err)
	}
	if err := os.WriteFile(submitOutput, video, 0o644); err != nil {
		return fmt.Errorf("save video: %w", err)
	}
	logger.Info("video saved",
		zap.String("path", submitOutput),
		zap.Int("size_bytes", len(video)))
	return nil
}
