// Package artifact packages generated videos for the response payload:
// inline base64 by default, S3-compatible upload when a bucket is
// configured.
package artifact

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

// Metadata describes a produced video file.
type Metadata struct {
	Filename  string  `json:"filename"`
	SizeBytes int64   `json:"size_bytes"`
	SizeMB    float64 `json:"size_mb"`
	SizeHuman string  `json:"size_human"`
}

// Stat returns metadata for the file at path.
func Stat(path string) (Metadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("stat artifact: %w", err)
	}
	return Metadata{
		Filename:  filepath.Base(path),
		SizeBytes: info.Size(),
		SizeMB:    float64(info.Size()) / 1024 / 1024,
		SizeHuman: humanize.Bytes(uint64(info.Size())),
	}, nil
}

// EncodeBase64 reads the file at path and returns it base64-encoded.
func EncodeBase64(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
