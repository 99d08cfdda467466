package supervisor

import (
	"fmt"
	"os"
	"strings"
)

// DefaultTailLines is the log excerpt size attached to failure envelopes.
const DefaultTailLines = 80

// maxTailRead caps how much of the log file is read for a tail. Engine logs
// grow quickly under model loading, so the tail reads a bounded window from
// the end of the file instead of the whole thing.
const maxTailRead = 256 * 1024

// TailFile returns the last n lines of the file at path. Errors are folded
// into the returned string: a log excerpt is diagnostic payload, and a
// failure to read it must not mask the failure being reported.
func TailFile(path string, n int) string {
	if n <= 0 {
		return ""
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "Log file not found"
		}
		return fmt.Sprintf("Error reading logs: %v", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Sprintf("Error reading logs: %v", err)
	}

	offset := int64(0)
	if info.Size() > maxTailRead {
		offset = info.Size() - maxTailRead
	}
	buf := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return fmt.Sprintf("Error reading logs: %v", err)
	}

	text := string(buf)
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
