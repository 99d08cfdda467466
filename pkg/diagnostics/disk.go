package diagnostics

import (
	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// Usage reports filesystem capacity for the given path. Errors degrade
// the Error field rather than failing the report.
func Usage(path string) DiskUsage {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return DiskUsage{Error: err.Error()}
	}

	total := st.Blocks * uint64(st.Bsize)
	free := st.Bavail * uint64(st.Bsize)
	used := total - st.Bfree*uint64(st.Bsize)

	return DiskUsage{
		TotalGB: round2(float64(total) / 1e9),
		UsedGB:  round2(float64(used) / 1e9),
		FreeGB:  round2(float64(free) / 1e9),
		Human:   humanize.Bytes(free),
	}
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
