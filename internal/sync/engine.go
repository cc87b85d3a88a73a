// Package sync pushes the pending change log to the remote backend.
// Entries are drained oldest-first in bounded batches; the remote
// acknowledges each entry independently, so a partial failure leaves the
// rejected entries queued without blocking the rest.
package sync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lapakku/backend/internal/domain"
	"lapakku/backend/internal/ledger"
	"lapakku/backend/internal/metrics"
	"lapakku/backend/internal/store"
)

var (
	ErrOffline      = errors.New("remote unreachable")
	ErrPushInFlight = errors.New("a push is already in flight")
)

// Pusher is the remote contract the engine needs; *Client satisfies it.
type Pusher interface {
	PushChanges(ctx context.Context, envelope domain.PushEnvelope) (*domain.PushResult, error)
}

// OnlineChecker gates push rounds; *connectivity.Monitor satisfies it.
type OnlineChecker interface {
	Online() bool
}

type Config struct {
	Interval   time.Duration
	BatchLimit int
	BackoffMin time.Duration
	BackoffMax time.Duration
	// PurgeAfter is how long acked change entries are retained before
	// physical deletion.
	PurgeAfter time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:   5 * time.Minute,
		BatchLimit: 200,
		BackoffMin: time.Second,
		BackoffMax: 60 * time.Second,
		PurgeAfter: 24 * time.Hour,
	}
}

type Engine struct {
	repo    store.Repository
	ledger  *ledger.Ledger
	remote  Pusher
	monitor OnlineChecker
	log     *zap.Logger
	cfg     Config

	deviceID string

	mu       sync.Mutex // serializes push rounds
	inFlight atomic.Bool
	paused   atomic.Bool
}

// Summary reports the per-status entry counts of one push round.
type Summary struct {
	Accepted  int `json:"accepted"`
	Duplicate int `json:"duplicate"`
	Rejected  int `json:"rejected"`
}

func (s Summary) Total() int {
	return s.Accepted + s.Duplicate + s.Rejected
}

func New(ctx context.Context, repo store.Repository, led *ledger.Ledger, remote Pusher, monitor OnlineChecker, cfg Config, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DefaultConfig().BatchLimit
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = DefaultConfig().BackoffMin
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = DefaultConfig().BackoffMax
	}
	if cfg.PurgeAfter <= 0 {
		cfg.PurgeAfter = DefaultConfig().PurgeAfter
	}

	deviceID, err := ensureDeviceID(ctx, repo)
	if err != nil {
		return nil, err
	}

	return &Engine{
		repo:     repo,
		ledger:   led,
		remote:   remote,
		monitor:  monitor,
		log:      log,
		cfg:      cfg,
		deviceID: deviceID,
	}, nil
}

// ensureDeviceID generates and persists the device identity on first run.
func ensureDeviceID(ctx context.Context, repo store.Repository) (string, error) {
	deviceID, err := repo.GetDeviceID(ctx)
	if err == nil {
		return deviceID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	deviceID = uuid.New().String()
	if err := repo.SetDeviceID(ctx, deviceID); err != nil {
		return "", err
	}
	return deviceID, nil
}

func (e *Engine) DeviceID() string {
	return e.deviceID
}

func (e *Engine) Pause()  { e.paused.Store(true) }
func (e *Engine) Resume() { e.paused.Store(false) }

func (e *Engine) Syncing() bool {
	return e.inFlight.Load()
}

// PushOnce performs a single push round. It is safe to call concurrently:
// a round already in flight is reported as ErrPushInFlight rather than
// double-sending, and rounds never overlap.
func (e *Engine) PushOnce(ctx context.Context) (Summary, error) {
	if e.paused.Load() {
		return Summary{}, nil
	}
	if !e.inFlight.CompareAndSwap(false, true) {
		return Summary{}, ErrPushInFlight
	}
	defer e.inFlight.Store(false)

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.monitor.Online() {
		return Summary{}, ErrOffline
	}

	var summary Summary
	for {
		entries, err := e.repo.ListPendingChanges(ctx, e.cfg.BatchLimit)
		if err != nil {
			return summary, err
		}
		if len(entries) == 0 {
			break
		}

		batch, err := e.pushBatch(ctx, entries)
		summary.Accepted += batch.Accepted
		summary.Duplicate += batch.Duplicate
		summary.Rejected += batch.Rejected
		if err != nil {
			metrics.PushRoundsCounter.WithLabelValues("failed").Inc()
			return summary, err
		}

		// Rejected entries stay pending; stop instead of re-sending them
		// in a tight loop. The next round retries after backoff.
		if batch.Rejected > 0 || len(entries) < e.cfg.BatchLimit {
			break
		}
	}

	now := time.Now().UTC()
	if err := e.repo.SetLastSyncedAt(ctx, now); err != nil {
		return summary, err
	}
	if purged, err := e.repo.PurgeAckedChanges(ctx, now.Add(-e.cfg.PurgeAfter)); err != nil {
		e.log.Warn("purging acked changes failed", zap.Error(err))
	} else if purged > 0 {
		e.log.Debug("purged acked change entries", zap.Int("count", purged))
	}
	if err := e.ledger.Refresh(ctx); err != nil {
		return summary, err
	}

	metrics.PendingChangesGauge.Set(float64(e.ledger.PendingTotal()))
	metrics.PushRoundsCounter.WithLabelValues("ok").Inc()
	if summary.Total() > 0 {
		e.log.Info("push round finished",
			zap.Int("accepted", summary.Accepted),
			zap.Int("duplicate", summary.Duplicate),
			zap.Int("rejected", summary.Rejected))
	}
	return summary, nil
}

func (e *Engine) pushBatch(ctx context.Context, entries []domain.ChangeEntry) (Summary, error) {
	envelope := domain.PushEnvelope{
		EnvelopeID: uuid.New().String(),
		DeviceID:   e.deviceID,
		SentAt:     time.Now().UTC(),
		Entries:    entries,
	}

	result, err := e.remote.PushChanges(ctx, envelope)
	if err != nil {
		return Summary{}, err
	}

	statusByChange := make(map[string]domain.PushStatus, len(result.Statuses))
	for _, status := range result.Statuses {
		statusByChange[status.ChangeID] = status
	}

	var summary Summary
	ackedAt := time.Now().UTC()
	for _, entry := range entries {
		status, ok := statusByChange[entry.ID]
		if !ok {
			// The remote did not mention this entry; treat it as rejected
			// so it is retried rather than silently dropped.
			status = domain.PushStatus{ChangeID: entry.ID, Status: domain.PushRejected, Reason: "no status in response"}
		}

		switch status.Status {
		case domain.PushAccepted, domain.PushDuplicate:
			if err := e.ledger.AckChange(ctx, entry, ackedAt); err != nil {
				return summary, err
			}
			if status.Status == domain.PushAccepted {
				summary.Accepted++
			} else {
				summary.Duplicate++
			}
			metrics.RecordsSyncedCounter.WithLabelValues(status.Status).Inc()
		default:
			if err := e.repo.BumpChangeAttempt(ctx, entry.ID, status.Reason); err != nil {
				return summary, err
			}
			summary.Rejected++
			metrics.RecordsSyncedCounter.WithLabelValues(domain.PushRejected).Inc()
			e.log.Warn("change rejected by remote",
				zap.String("change_id", entry.ID),
				zap.String("collection", entry.Collection),
				zap.String("reason", status.Reason))
		}
	}
	return summary, nil
}

// Run pushes on a fixed interval, immediately when the monitor reports an
// offline-to-online transition, and backs off exponentially after failed
// rounds.
func (e *Engine) Run(ctx context.Context, transitions <-chan bool) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	failures := 0
	for {
		var backoffCh <-chan time.Time
		if failures > 0 {
			backoffCh = time.After(e.backoff(failures))
		}

		select {
		case <-ctx.Done():
			return
		case online := <-transitions:
			if !online {
				continue
			}
		case <-ticker.C:
		case <-backoffCh:
		}

		_, err := e.PushOnce(ctx)
		switch {
		case err == nil:
			failures = 0
		case errors.Is(err, ErrOffline), errors.Is(err, ErrPushInFlight):
			// Not failures; wait for the next trigger.
		default:
			failures++
			e.log.Warn("push round failed",
				zap.Int("consecutive_failures", failures),
				zap.Error(err))
		}
	}
}

func (e *Engine) backoff(failures int) time.Duration {
	d := e.cfg.BackoffMin
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= e.cfg.BackoffMax {
			return e.cfg.BackoffMax
		}
	}
	return d
}

// Status assembles the sync state the UI chrome renders.
func (e *Engine) Status(ctx context.Context) (domain.SyncStatus, error) {
	lastSyncedAt, err := e.repo.GetLastSyncedAt(ctx)
	if err != nil {
		return domain.SyncStatus{}, err
	}
	return domain.SyncStatus{
		Online:       e.monitor.Online(),
		Syncing:      e.inFlight.Load(),
		PendingTotal: e.ledger.PendingTotal(),
		PendingBy:    e.ledger.PendingByCollection(),
		LastSyncedAt: lastSyncedAt,
		DeviceID:     e.deviceID,
	}, nil
}
