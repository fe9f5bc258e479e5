package app

import (
	"context"
	"fmt"
	"time"

	"zira/internal/core/coordinator"
	"zira/internal/shared/util"
)

type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	HeapMB     uint64            `json:"heap_mb"`
	Components map[string]string `json:"components"`
}

type HealthService struct {
	app *App
}

func NewHealthService(app *App) *HealthService {
	return &HealthService{app: app}
}

// Check reports "up" while the background worker runs and "degraded"
// otherwise.
func (s *HealthService) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:     "up",
		Timestamp:  time.Now().UTC(),
		HeapMB:     util.GetHeapAllocMB(),
		Components: make(map[string]string),
	}

	state := s.app.Coordinator.State()
	status.Components["coordinator"] = string(state)
	if state != coordinator.StateRunning {
		status.Status = "degraded"
	}
	queue := fmt.Sprintf("%d pending", s.app.Coordinator.Pending())
	if job, ok := s.app.Coordinator.Active(); ok {
		queue += fmt.Sprintf(", running %s %s", job.Kind, job.ID)
	}
	status.Components["queue"] = queue

	for _, root := range s.app.Indexes.Roots() {
		x, ok := s.app.Indexes.Get(root)
		if !ok {
			continue
		}
		snap := x.Snapshot()
		detail := fmt.Sprintf("ok (%d files, %d declarations)", snap.FileCount(), snap.DeclarationCount())
		if st := x.LoadStatus(); st.NeedsRescan {
			detail = "needs rescan: " + st.Reason
		}
		status.Components["index:"+root] = detail
	}

	switch {
	case s.app.Journal != nil:
		status.Components["journal"] = "ok"
	case s.app.Config.Journal.IsEnabled():
		status.Components["journal"] = "unavailable"
	default:
		status.Components["journal"] = "disabled"
	}

	status.Components["analyzer_cache"] = fmt.Sprintf("%d entries", s.app.Analyzers.CachedEntries())
	return status
}
