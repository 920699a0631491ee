package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/ignite/audience-engine/internal/donor"
	"github.com/ignite/audience-engine/internal/segmentation"
)

// DefaultDrainInterval is how often the dirty set is drained.
const DefaultDrainInterval = 60 * time.Second

// DefaultFullRefreshSpec marks all auto-updating segments dirty on a long
// cadence as a safety net against missed triggers.
const DefaultFullRefreshSpec = "@hourly"

// Engine is the slice of the segmentation engine the scheduler drives.
type Engine interface {
	DirtyIDs() []uuid.UUID
	ClearDirty(id uuid.UUID)
	MarkAllAutoUpdating() int
	GetSegment(id uuid.UUID) *segmentation.Segment
	DonorSnapshot(ctx context.Context) ([]*donor.Donor, error)
	ReconcileSnapshot(id uuid.UUID, donors []*donor.Donor) ([]segmentation.Update, error)
}

// UpdateScheduler is the background driver for segment reconciliation. It
// runs two independent periodic actions: a short drain tick that
// reconciles dirty segments through the bounded pool, and a long cron
// full-refresh that re-marks every auto-updating segment.
//
// One segment never has two passes in flight at once; different segments
// reconcile concurrently up to the pool bound. A failure in one segment's
// pass is caught at the task boundary and never halts the drain of the
// rest.
type UpdateScheduler struct {
	engine        Engine
	pool          *Pool
	drainInterval time.Duration
	refreshSpec   string

	cron     *cron.Cron
	inFlight map[uuid.UUID]bool

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewUpdateScheduler creates a scheduler over the given engine and pool.
func NewUpdateScheduler(engine Engine, pool *Pool, drainInterval time.Duration, refreshSpec string) *UpdateScheduler {
	if drainInterval <= 0 {
		drainInterval = DefaultDrainInterval
	}
	if refreshSpec == "" {
		refreshSpec = DefaultFullRefreshSpec
	}
	return &UpdateScheduler{
		engine:        engine,
		pool:          pool,
		drainInterval: drainInterval,
		refreshSpec:   refreshSpec,
		inFlight:      make(map[uuid.UUID]bool),
	}
}

// Start launches the drain loop and the full-refresh cron. It errors on a
// double start or an invalid cron spec.
func (s *UpdateScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("update scheduler already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	c := cron.New()
	if _, err := c.AddFunc(s.refreshSpec, s.fullRefresh); err != nil {
		s.cancel()
		return fmt.Errorf("invalid full-refresh spec %q: %w", s.refreshSpec, err)
	}
	s.cron = c
	s.cron.Start()

	s.running = true
	s.wg.Add(1)
	go s.drainLoop()

	log.Printf("[UpdateScheduler] Started (drain every %s, full refresh %q)", s.drainInterval, s.refreshSpec)
	return nil
}

// Stop halts both cadences and waits for in-flight passes to finish.
func (s *UpdateScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	cronCtx := s.cron.Stop()
	s.mu.Unlock()

	<-cronCtx.Done()
	s.wg.Wait()
	log.Println("[UpdateScheduler] Stopped")
}

func (s *UpdateScheduler) drainLoop() {
	defer s.wg.Done()

	// Drain immediately on start so restored state converges fast.
	s.drain()

	ticker := time.NewTicker(s.drainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.drain()
		}
	}
}

// drain reconciles every currently-dirty segment against one shared donor
// snapshot. Ids stay dirty until their pass succeeds, so failures retry on
// the next tick.
func (s *UpdateScheduler) drain() {
	ids := s.engine.DirtyIDs()
	dirtyDepth.Set(float64(len(ids)))
	if len(ids) == 0 {
		return
	}

	donors, err := s.engine.DonorSnapshot(s.ctx)
	if err != nil {
		log.Printf("[UpdateScheduler] Donor snapshot failed, deferring drain: %v", err)
		return
	}

	for _, id := range ids {
		s.mu.Lock()
		if s.inFlight[id] || !s.running {
			s.mu.Unlock()
			continue
		}
		s.inFlight[id] = true
		s.mu.Unlock()

		s.wg.Add(1)
		go func(id uuid.UUID) {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.inFlight, id)
				s.mu.Unlock()
			}()

			if err := s.pool.Do(s.ctx, func() { s.reconcileOne(id, donors) }); err != nil {
				log.Printf("[UpdateScheduler] Segment %s pass not started: %v", id, err)
			}
		}(id)
	}
}

// reconcileOne is the per-segment task boundary: every failure is caught,
// logged with the segment id, and isolated from sibling tasks.
func (s *UpdateScheduler) reconcileOne(id uuid.UUID, donors []*donor.Donor) {
	defer func() {
		if r := recover(); r != nil {
			reconciliationsTotal.WithLabelValues("error").Inc()
			log.Printf("[UpdateScheduler] Panic reconciling segment %s: %v", id, r)
		}
	}()

	seg := s.engine.GetSegment(id)
	if seg == nil || seg.Status != segmentation.StatusActive || !seg.Config.AutoUpdate {
		// Deleted, paused, or manual segments leave the queue untouched.
		s.engine.ClearDirty(id)
		reconciliationsTotal.WithLabelValues("skipped").Inc()
		return
	}

	start := time.Now()
	updates, err := s.engine.ReconcileSnapshot(id, donors)
	reconcileDuration.Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, segmentation.ErrSegmentDeleted):
		s.engine.ClearDirty(id)
		reconciliationsTotal.WithLabelValues("skipped").Inc()
		log.Printf("[UpdateScheduler] Segment %s deleted mid-cycle, results discarded", id)
	case err != nil:
		reconciliationsTotal.WithLabelValues("error").Inc()
		log.Printf("[UpdateScheduler] Segment %s reconciliation failed: %v", id, err)
	default:
		s.engine.ClearDirty(id)
		reconciliationsTotal.WithLabelValues("success").Inc()
		for _, u := range updates {
			membershipChanges.WithLabelValues(string(u.ChangeType)).Add(float64(len(u.DonorIDs)))
		}
	}
}

// fullRefresh is the long-cadence safety net.
func (s *UpdateScheduler) fullRefresh() {
	marked := s.engine.MarkAllAutoUpdating()
	fullRefreshMarked.Add(float64(marked))
	log.Printf("[UpdateScheduler] Full refresh marked %d segments dirty", marked)
}
