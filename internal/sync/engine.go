// Package sync drives reconciliation between the local entity store
// and the remote authority: push pending local mutations in dependency
// order, pull authoritative collections, then drain the photo upload
// queue.
package sync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spotsync/client/internal/apperr"
	"github.com/spotsync/client/internal/models"
	"github.com/spotsync/client/internal/observability"
	"github.com/spotsync/client/internal/photo"
	"github.com/spotsync/client/internal/remote"
	"github.com/spotsync/client/internal/store"
)

// Summary is the outcome of one reconciliation pass.
type Summary struct {
	Succeeded int
	Failed    int
	LastError error
}

// PendingCounts is the per-kind count of unpushed local work, for
// badge/indicator display.
type PendingCounts struct {
	Spots  int
	Visits int
	Users  int
	Photos int
}

// Total returns the combined pending work count.
func (c PendingCounts) Total() int {
	return c.Spots + c.Visits + c.Users + c.Photos
}

// Engine runs reconciliation passes. Passes never run concurrently
// with themselves: a trigger arriving mid-pass queues behind the
// running one, so the same pending record is never double-pushed.
type Engine struct {
	db        *store.DB
	spots     *store.SpotStore
	visits    *store.VisitStore
	users     *store.UserStore
	photos    *store.PhotoQueue
	api       *remote.Client
	processor *photo.Processor
	log       *observability.Logger

	runMu   sync.Mutex
	running atomic.Bool

	subMu sync.Mutex
	subs  []chan PendingCounts
}

// New creates an Engine over the shared database handle.
func New(db *store.DB, api *remote.Client, processor *photo.Processor) *Engine {
	return &Engine{
		db:        db,
		spots:     store.NewSpotStore(db),
		visits:    store.NewVisitStore(db),
		users:     store.NewUserStore(db),
		photos:    store.NewPhotoQueue(db),
		api:       api,
		processor: processor,
		log:       observability.GetLogger(),
	}
}

// Running reports whether a pass is currently executing.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// TriggerSync runs one full reconciliation pass: push, pull, photos.
// Each record transition is atomic, so cancelling mid-pass leaves no
// record in an inconsistent state; the next pass simply resumes the
// remaining pending work.
func (e *Engine) TriggerSync(ctx context.Context) (Summary, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	e.running.Store(true)
	defer e.running.Store(false)

	ctx, span := observability.StartSpan(ctx, "sync.pass")
	defer span.End()
	started := time.Now()

	sum := &collector{}

	// Push phase. Visits chain behind spots because a visit may
	// reference a spot that only gets its real id during the spot
	// push; the profile is independent and pushes concurrently.
	var spotsAborted, visitsAborted, usersAborted bool
	g := new(errgroup.Group)
	g.Go(func() error {
		spotsAborted = e.pushSpots(ctx, sum)
		if !spotsAborted {
			visitsAborted = e.pushVisits(ctx, sum)
		} else {
			visitsAborted = true
		}
		return nil
	})
	g.Go(func() error {
		usersAborted = e.pushUsers(ctx, sum)
		return nil
	})
	_ = g.Wait()

	// Pull phase, per kind, only where the push finished without a
	// connectivity abort: a dead network fails the pull too, and a
	// pull before the push resolves could race pending intent.
	if !spotsAborted {
		e.pullSpots(ctx, sum)
	}
	if !visitsAborted {
		e.pullVisits(ctx, sum)
	}
	if !usersAborted {
		e.pullUsers(ctx, sum)
	}

	// Photo phase last: uploads need confirmed spot ids.
	if !spotsAborted {
		e.pushPhotos(ctx, sum)
	}

	if ctx.Err() == nil {
		if err := e.db.SetLastSyncAt(ctx, time.Now()); err != nil {
			e.log.Warnf("failed to record last sync time: %v", err)
		}
	}
	e.publishPending(ctx)

	s := sum.snapshot()
	span.SetAttributes(observability.Duration(time.Since(started)))
	if s.Failed == 0 {
		observability.SetSuccess(span)
	} else {
		observability.RecordError(span, s.LastError)
	}
	e.log.WithContext(ctx).WithFields(map[string]interface{}{
		"succeeded":   s.Succeeded,
		"failed":      s.Failed,
		"duration_ms": time.Since(started).Milliseconds(),
	}).Info("reconciliation pass finished")
	return s, ctx.Err()
}

// resolvePushError applies the failure policy for one record's push.
// It returns abort=true when the rest of this kind's push phase should
// stop (connectivity is down), and purge=true when the record's
// pending marker is terminally unrecoverable.
func resolvePushError(cls *apperr.Error) (abort, purge bool) {
	if cls.Kind.Retryable() {
		return true, false
	}
	if cls.Kind == apperr.KindServer {
		switch cls.Status {
		case 400, 403, 404, 409:
			// Terminal verdicts. No pre-mutation snapshot is retained,
			// so the pending marker is purged and the user redoes the
			// action; the next pull re-materializes server state.
			return false, true
		}
	}
	return false, false
}

func (e *Engine) pushSpots(ctx context.Context, sum *collector) (aborted bool) {
	ctx, span := observability.StartSyncSpan(ctx, "push", "spots")
	defer span.End()

	pending, err := e.spots.PendingMutations(ctx)
	if err != nil {
		sum.fail(err)
		observability.RecordError(span, err)
		return false
	}

	for _, spot := range pending {
		if ctx.Err() != nil {
			return true
		}
		if err := e.pushSpot(ctx, spot); err != nil {
			cls := apperr.Classify(err)
			sum.fail(cls)
			span.SetAttributes(observability.SpotID(spot.ID), observability.ErrorKind(cls.Kind.String()))
			e.log.WithContext(ctx).Warnf("spot %d push failed (%s): %v", spot.ID, cls.Kind, cls)
			abort, purge := resolvePushError(cls)
			if purge {
				if err := e.spots.Purge(ctx, spot.ID); err != nil {
					e.log.Errorf("failed to purge spot %d: %v", spot.ID, err)
				}
			}
			if abort {
				return true
			}
			continue
		}
		sum.ok()
	}
	return false
}

func (e *Engine) pushSpot(ctx context.Context, spot *models.Spot) error {
	switch spot.SyncState {
	case models.PendingCreate:
		created, err := e.api.CreateSpot(ctx, spot)
		if err != nil {
			return err
		}
		return e.spots.ConfirmCreate(ctx, spot.ID, created.ID)
	case models.PendingUpdate:
		if err := e.api.UpdateSpot(ctx, spot); err != nil {
			return err
		}
		return e.spots.MarkState(ctx, spot.ID, models.Synced)
	case models.PendingDelete:
		if err := e.api.DeleteSpot(ctx, spot.ID); err != nil {
			return err
		}
		return e.spots.Purge(ctx, spot.ID)
	}
	return nil
}

func (e *Engine) pushVisits(ctx context.Context, sum *collector) (aborted bool) {
	ctx, span := observability.StartSyncSpan(ctx, "push", "visits")
	defer span.End()

	pending, err := e.visits.PendingMutations(ctx)
	if err != nil {
		sum.fail(err)
		observability.RecordError(span, err)
		return false
	}

	for _, visit := range pending {
		if ctx.Err() != nil {
			return true
		}
		if visit.SpotID < 0 {
			// The referenced spot has not been confirmed yet (its own
			// create failed or was deferred). The visit stays pending
			// until the spot resolves.
			e.log.Debugf("visit %d deferred: spot %d still provisional", visit.ID, visit.SpotID)
			continue
		}
		if err := e.pushVisit(ctx, visit); err != nil {
			cls := apperr.Classify(err)
			sum.fail(cls)
			span.SetAttributes(observability.VisitID(visit.ID), observability.ErrorKind(cls.Kind.String()))
			e.log.WithContext(ctx).Warnf("visit %d push failed (%s): %v", visit.ID, cls.Kind, cls)
			abort, purge := resolvePushError(cls)
			if purge {
				if err := e.visits.Purge(ctx, visit.ID); err != nil {
					e.log.Errorf("failed to purge visit %d: %v", visit.ID, err)
				}
			}
			if abort {
				return true
			}
			continue
		}
		sum.ok()
	}
	return false
}

func (e *Engine) pushVisit(ctx context.Context, visit *models.Visit) error {
	switch visit.SyncState {
	case models.PendingCreate:
		created, err := e.api.CreateVisit(ctx, visit)
		if err != nil {
			return err
		}
		return e.visits.ConfirmCreate(ctx, visit.ID, created.ID)
	case models.PendingUpdate:
		if err := e.api.UpdateVisit(ctx, visit); err != nil {
			return err
		}
		return e.visits.MarkState(ctx, visit.ID, models.Synced)
	case models.PendingDelete:
		if err := e.api.DeleteVisit(ctx, visit.ID); err != nil {
			return err
		}
		return e.visits.Purge(ctx, visit.ID)
	}
	return nil
}

func (e *Engine) pushUsers(ctx context.Context, sum *collector) (aborted bool) {
	ctx, span := observability.StartSyncSpan(ctx, "push", "users")
	defer span.End()

	pending, err := e.users.PendingMutations(ctx)
	if err != nil {
		sum.fail(err)
		observability.RecordError(span, err)
		return false
	}

	for _, user := range pending {
		if ctx.Err() != nil {
			return true
		}
		if err := e.api.UpdateProfile(ctx, user); err != nil {
			cls := apperr.Classify(err)
			sum.fail(cls)
			e.log.WithContext(ctx).Warnf("profile push failed (%s): %v", cls.Kind, cls)
			abort, purge := resolvePushError(cls)
			if purge {
				// The profile row is not purged outright; the pending
				// marker resets and the next pull restores server
				// state.
				if err := e.users.MarkState(ctx, user.ID, models.Synced); err != nil {
					e.log.Errorf("failed to reset profile state: %v", err)
				}
			}
			if abort {
				return true
			}
			continue
		}
		if err := e.users.MarkState(ctx, user.ID, models.Synced); err != nil {
			sum.fail(err)
			continue
		}
		sum.ok()
	}
	return false
}

func (e *Engine) pullSpots(ctx context.Context, sum *collector) {
	ctx, span := observability.StartSyncSpan(ctx, "pull", "spots")
	defer span.End()

	spots, err := e.api.ListSpots(ctx)
	if err != nil {
		cls := apperr.Classify(err)
		sum.fail(cls)
		observability.RecordError(span, cls)
		return
	}
	for _, spot := range spots {
		if err := e.spots.UpsertSynced(ctx, spot); err != nil {
			sum.fail(err)
		}
	}
}

func (e *Engine) pullVisits(ctx context.Context, sum *collector) {
	ctx, span := observability.StartSyncSpan(ctx, "pull", "visits")
	defer span.End()

	visits, err := e.api.ListVisits(ctx)
	if err != nil {
		cls := apperr.Classify(err)
		sum.fail(cls)
		observability.RecordError(span, cls)
		return
	}
	for _, visit := range visits {
		if err := e.visits.UpsertSynced(ctx, visit); err != nil {
			sum.fail(err)
		}
	}
}

func (e *Engine) pullUsers(ctx context.Context, sum *collector) {
	ctx, span := observability.StartSyncSpan(ctx, "pull", "users")
	defer span.End()

	user, err := e.api.GetProfile(ctx)
	if err != nil {
		cls := apperr.Classify(err)
		sum.fail(cls)
		observability.RecordError(span, cls)
		return
	}
	if err := e.users.UpsertSynced(ctx, user); err != nil {
		sum.fail(err)
	}
}

func (e *Engine) pushPhotos(ctx context.Context, sum *collector) {
	ctx, span := observability.StartSyncSpan(ctx, "photos", "pending_photos")
	defer span.End()

	pending, err := e.photos.List(ctx)
	if err != nil {
		sum.fail(err)
		observability.RecordError(span, err)
		return
	}

	for _, p := range pending {
		if ctx.Err() != nil {
			return
		}
		if p.SpotID < 0 {
			// Owning spot not confirmed yet; try again next pass.
			continue
		}

		upload, err := e.processor.Prepare(p.FilePath)
		if err != nil {
			// The local file is unreadable or corrupt; it will never
			// upload. Drop the queue entry and surface the failure.
			e.log.Warnf("dropping unusable pending photo %d: %v", p.ID, err)
			if err := e.photos.Delete(ctx, p.ID); err != nil {
				e.log.Errorf("failed to drop pending photo %d: %v", p.ID, err)
			}
			sum.fail(err)
			continue
		}

		url, err := e.api.UploadPhoto(ctx, p.SpotID, upload.Filename, upload.Data, p.IsMain)
		if err != nil {
			cls := apperr.Classify(err)
			sum.fail(cls)
			e.log.WithContext(ctx).Warnf("photo %d upload failed (%s): %v", p.ID, cls.Kind, cls)
			abort, purge := resolvePushError(cls)
			if purge {
				if err := e.photos.Delete(ctx, p.ID); err != nil {
					e.log.Errorf("failed to drop pending photo %d: %v", p.ID, err)
				}
			}
			if abort {
				return
			}
			continue
		}

		if p.IsMain {
			if err := e.spots.SetPhotoURL(ctx, p.SpotID, url); err != nil {
				e.log.Errorf("failed to attach photo to spot %d: %v", p.SpotID, err)
			}
		}
		if err := e.photos.Delete(ctx, p.ID); err != nil {
			e.log.Errorf("failed to delete pending photo %d: %v", p.ID, err)
			continue
		}
		sum.ok()
	}
}

// PendingCounts reports per-kind unpushed work.
func (e *Engine) PendingCounts(ctx context.Context) (PendingCounts, error) {
	var counts PendingCounts
	var err error
	if counts.Spots, err = e.spots.PendingCount(ctx); err != nil {
		return counts, err
	}
	if counts.Visits, err = e.visits.PendingCount(ctx); err != nil {
		return counts, err
	}
	if counts.Users, err = e.users.PendingCount(ctx); err != nil {
		return counts, err
	}
	if counts.Photos, err = e.photos.Count(ctx); err != nil {
		return counts, err
	}
	return counts, nil
}

// Subscribe returns a channel receiving pending-count updates after
// each pass. The channel is buffered; a slow consumer only ever misses
// intermediate values, never the latest.
func (e *Engine) Subscribe() <-chan PendingCounts {
	ch := make(chan PendingCounts, 1)
	e.subMu.Lock()
	e.subs = append(e.subs, ch)
	e.subMu.Unlock()
	return ch
}

func (e *Engine) publishPending(ctx context.Context) {
	counts, err := e.PendingCounts(ctx)
	if err != nil {
		e.log.Warnf("failed to read pending counts: %v", err)
		return
	}
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		// Replace a stale unconsumed value rather than block.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- counts:
		default:
		}
	}
}

// collector accumulates the pass summary across concurrent per-kind
// goroutines.
type collector struct {
	mu sync.Mutex
	s  Summary
}

func (c *collector) ok() {
	c.mu.Lock()
	c.s.Succeeded++
	c.mu.Unlock()
}

func (c *collector) fail(err error) {
	c.mu.Lock()
	c.s.Failed++
	c.s.LastError = err
	c.mu.Unlock()
}

func (c *collector) snapshot() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}
