package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/starford/masail/internal/apperr"
	"github.com/starford/masail/internal/models"
)

const (
	msgPendingFailed  = "Failed to fetch pending documents"
	msgApprovalFailed = "Failed to process approval"
)

// ApprovalAPI is what the approval queue calls.
type ApprovalAPI interface {
	PendingDocuments(ctx context.Context) ([]models.PendingDocument, error)
	Approve(ctx context.Context, id int, approved bool) error
}

// ApprovalState is a snapshot of the approval queue.
type ApprovalState struct {
	Items  []models.PendingDocument `json:"items"`
	Status Status                   `json:"status"`
	Error  string                   `json:"error,omitempty"`
}

// Approval is the moderation queue.
//
// Cache strategy: after a successful decision the item is removed from the
// local list without re-fetching (optimistic removal). The list may drift
// from the server if another moderator acts concurrently; Refresh replaces
// it with the server's view.
type Approval struct {
	api ApprovalAPI
	log *slog.Logger

	mu       sync.Mutex
	items    []models.PendingDocument
	status   Status
	errMsg   string
	inFlight map[int]struct{}
}

// NewApproval creates an approval queue view.
func NewApproval(api ApprovalAPI, logger *slog.Logger) *Approval {
	return &Approval{
		api:      api,
		log:      logger.With("view", "approval"),
		items:    []models.PendingDocument{},
		status:   StatusIdle,
		inFlight: map[int]struct{}{},
	}
}

// Fetch loads the pending list, replacing the local copy on success.
func (a *Approval) Fetch(ctx context.Context) (ApprovalState, error) {
	a.mu.Lock()
	a.status = StatusPending
	a.errMsg = ""
	a.mu.Unlock()

	items, err := a.api.PendingDocuments(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.log.Error("fetch pending documents failed", slog.String("error", err.Error()))
		a.status = StatusError
		a.errMsg = msgPendingFailed
		return a.stateLocked(), viewErr(msgPendingFailed, err)
	}
	a.items = items
	a.status = StatusSuccess
	return a.stateLocked(), nil
}

// Refresh is the authoritative re-fetch of the queue.
func (a *Approval) Refresh(ctx context.Context) (ApprovalState, error) {
	return a.Fetch(ctx)
}

// Decide approves or rejects document id. On success exactly that item is
// removed from the local list. A second decision on the same id while the
// first is in flight is rejected with apperr.ErrInFlight.
func (a *Approval) Decide(ctx context.Context, id int, approved bool) (ApprovalState, error) {
	a.mu.Lock()
	if _, busy := a.inFlight[id]; busy {
		st := a.stateLocked()
		a.mu.Unlock()
		return st, fmt.Errorf("document %d: %w", id, apperr.ErrInFlight)
	}
	a.inFlight[id] = struct{}{}
	a.mu.Unlock()

	err := a.api.Approve(ctx, id, approved)

	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inFlight, id)
	if err != nil {
		a.log.Error("approval failed", slog.Int("id", id), slog.Bool("approved", approved), slog.String("error", err.Error()))
		a.errMsg = msgApprovalFailed
		return a.stateLocked(), viewErr(msgApprovalFailed, err)
	}
	a.items = slices.DeleteFunc(a.items, func(d models.PendingDocument) bool { return d.ID == id })
	a.errMsg = ""
	a.log.Info("document decided", slog.Int("id", id), slog.Bool("approved", approved))
	return a.stateLocked(), nil
}

// State returns a snapshot of the queue.
func (a *Approval) State() ApprovalState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stateLocked()
}

func (a *Approval) stateLocked() ApprovalState {
	return ApprovalState{Items: slices.Clone(a.items), Status: a.status, Error: a.errMsg}
}
