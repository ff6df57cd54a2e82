package orchestrator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/starford/masail/internal/models"
)

const msgStatsFailed = "Failed to fetch dashboard statistics"

// DashboardAPI is what the dashboard calls.
type DashboardAPI interface {
	Stats(ctx context.Context) (*models.Stats, error)
}

// DashboardState is a snapshot of the dashboard.
type DashboardState struct {
	Stats  models.Stats `json:"stats"`
	Status Status       `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// Dashboard shows admin aggregates. A full Load is the only refresh.
type Dashboard struct {
	api DashboardAPI
	log *slog.Logger

	mu     sync.Mutex
	stats  models.Stats
	status Status
	errMsg string
}

// NewDashboard creates a dashboard view.
func NewDashboard(api DashboardAPI, logger *slog.Logger) *Dashboard {
	return &Dashboard{
		api:    api,
		log:    logger.With("view", "dashboard"),
		stats:  models.Stats{RecentUploads: []models.RecentUpload{}},
		status: StatusIdle,
	}
}

// Load fetches the stats. On failure the previous stats stay and a
// visible error is set.
func (d *Dashboard) Load(ctx context.Context) (DashboardState, error) {
	d.mu.Lock()
	d.status = StatusPending
	d.errMsg = ""
	d.mu.Unlock()

	stats, err := d.api.Stats(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.log.Error("fetch stats failed", slog.String("error", err.Error()))
		d.status = StatusError
		d.errMsg = msgStatsFailed
		return d.stateLocked(), viewErr(msgStatsFailed, err)
	}
	if stats.RecentUploads == nil {
		stats.RecentUploads = []models.RecentUpload{}
	}
	d.stats = *stats
	d.status = StatusSuccess
	return d.stateLocked(), nil
}

// State returns a snapshot of the dashboard.
func (d *Dashboard) State() DashboardState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stateLocked()
}

func (d *Dashboard) stateLocked() DashboardState {
	st := DashboardState{Stats: d.stats, Status: d.status, Error: d.errMsg}
	st.Stats.RecentUploads = append([]models.RecentUpload{}, d.stats.RecentUploads...)
	return st
}
