package httpapp

import (
	"net/http"

	"golang.org/x/sys/unix"

	"github.com/cesargomez89/stemdeck/internal/http/dto"
)

// Health reports gate occupancy, active tasks and free disk space. The
// service is "degraded" without a transcoder since conversions and the
// fallback analyzer need it.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	load := h.Service.Load()

	active := make(map[string]int, len(load.Active))
	for kind, n := range load.Active {
		active[string(kind)] = n
	}

	resp := dto.HealthResponse{
		Status:          "healthy",
		Gates:           load.Gates,
		ActiveTasks:     active,
		TrackedTasks:    load.Tasks,
		FFmpegAvailable: h.FFmpegAvailable == nil || h.FFmpegAvailable(),
	}
	if !resp.FFmpegAvailable {
		resp.Status = "degraded"
	}

	free, err := diskFreeMB(h.Service.DownloadsDir())
	if err != nil {
		h.Logger.Warn("Failed to stat downloads volume", "error", err)
	}
	resp.DiskFreeMB = free

	writeJSON(w, http.StatusOK, resp)
}

func diskFreeMB(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize) / (1 << 20), nil
}
