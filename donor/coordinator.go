package donor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/shardkit/migrate/cluster"
	"github.com/shardkit/migrate/cmn/config"
	"github.com/shardkit/migrate/cmn/debug"
	"github.com/shardkit/migrate/cmn/nlog"
	"github.com/shardkit/migrate/meta"
	"github.com/shardkit/migrate/rpc"
	"github.com/shardkit/migrate/xact/xs"
)

// stepTimer accumulates start/elapsed durations for each of the seven donor
// steps, the Go-idiom stand-in for the original's MoveTimingHelper: the same
// "note how long each phase took, surface it in the change log" behavior,
// expressed as a small mutex-guarded map instead of a stack-allocated C++
// helper (original_source/src/mongo/s/d_migrate.cpp).
type stepTimer struct {
	mu      sync.Mutex
	started map[string]time.Time
	elapsed map[string]time.Duration
}

func newStepTimer() *stepTimer {
	return &stepTimer{started: make(map[string]time.Time, 7), elapsed: make(map[string]time.Duration, 7)}
}

func (t *stepTimer) start(step string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started[step] = time.Now()
}

func (t *stepTimer) done(step string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.started[step]; ok {
		t.elapsed[step] += time.Since(s)
	}
}

// millis renders every step's elapsed duration for the moveChunk.from
// change-log entry.
func (t *stepTimer) millis() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]interface{}, len(t.elapsed))
	for step, d := range t.elapsed {
		out[step] = d.Milliseconds()
	}
	return out
}

// Coordinator runs moveChunk end to end (spec.md §4.4), the donor-side
// counterpart to a Recipient Group's background Run loop: here the steps
// execute synchronously, one RPC call at a time, under the caller's
// context.
type Coordinator struct {
	locks    cluster.NSLocks
	distLock cluster.DistLock
	store    cluster.MetadataStore
	rangeDel cluster.RangeDeleter
	interrupt cluster.Interrupt
	accessor cluster.RecordAccessor
	guards   *xs.RangeGuards
	metrics  *rpc.Metrics
}

// NewCoordinator wires the collaborators a moveChunk run needs.
func NewCoordinator(
	locks cluster.NSLocks, distLock cluster.DistLock, store cluster.MetadataStore,
	rangeDel cluster.RangeDeleter, interrupt cluster.Interrupt, accessor cluster.RecordAccessor,
	guards *xs.RangeGuards, metrics *rpc.Metrics,
) *Coordinator {
	return &Coordinator{
		locks: locks, distLock: distLock, store: store, rangeDel: rangeDel,
		interrupt: interrupt, accessor: accessor, guards: guards, metrics: metrics,
	}
}

// Move runs the full seven-step protocol for one moveChunk request.
func (c *Coordinator) Move(ctx context.Context, opts Options, group *xs.DonorGroup, recipient rpc.RecipientClient) (Result, error) {
	start := time.Now()
	timer := newStepTimer()

	timer.start("validate")
	err := c.step1Validate(&opts)
	timer.done("validate")
	if err != nil {
		return Result{Errmsg: err.Error()}, err
	}

	timer.start("lock")
	release, ok, holder, err := c.distLock.Acquire(ctx, "migrate-"+fmt.Sprint(opts.Min), config.GCO.Get().Timeout.DistLock)
	timer.done("lock")
	if err != nil {
		return Result{Errmsg: err.Error()}, err
	}
	if !ok {
		return Result{Locked: true, Holder: holder}, fmt.Errorf("moveChunk %s: locked by %s", opts.NS, holder)
	}
	defer release()

	timer.start("checkVersion")
	localVersion, maxVersion, linked, res, err := c.step2CheckVersion(ctx, opts)
	timer.done("checkVersion")
	if err != nil || res.Stale {
		return res, err
	}
	opts.LinkedNamespaces = linked

	migID := meta.NewMigrationId()
	_ = c.store.AppendChangeLog(ctx, cluster.ChangeLogEntry{
		Action: "moveChunk.start", NS: opts.NS, At: time.Now(),
		Detail: map[string]interface{}{"from": opts.From, "to": opts.To, "min": fmt.Sprint(opts.Min), "max": fmt.Sprint(opts.Max)},
	})

	timer.start("prime")
	res, err = c.step3Prime(ctx, opts, migID, group, recipient, linked)
	timer.done("prime")
	if err != nil || res.ChunkTooBig {
		return res, err
	}

	timer.start("waitSteady")
	err = c.step4WaitSteady(ctx, opts, migID, group, recipient)
	timer.done("waitSteady")
	if err != nil {
		return Result{Split: true, Errmsg: err.Error()}, err
	}

	timer.start("commit")
	nextVersion, err := c.step5Commit(ctx, opts, group, recipient, localVersion, maxVersion)
	timer.done("commit")
	if err != nil {
		return Result{Errmsg: err.Error()}, err
	}

	timer.start("cleanup")
	c.step6Cleanup(ctx, opts)
	timer.done("cleanup")

	c.step7Done(ctx, opts, group, start, nextVersion, timer)

	return Result{OK: true}, nil
}

func (c *Coordinator) step1Validate(opts *Options) error {
	if opts.NS == "" || opts.From == "" || opts.To == "" {
		return fmt.Errorf("moveChunk: ns, from and to are required")
	}
	if opts.MaxChunkSizeBytes <= 0 {
		opts.MaxChunkSizeBytes = config.GCO.Get().MaxChunkSizeBytesDefault
	}
	opts.SecondaryThrottle = opts.EffectiveThrottle()
	return nil
}

func (c *Coordinator) step2CheckVersion(ctx context.Context, opts Options) (localVersion, maxVersion meta.ChunkVersion, linked []string, res Result, err error) {
	chunk, err := c.store.ChunkByOwner(ctx, opts.NS, opts.ShardId)
	if err != nil {
		return meta.ChunkVersion{}, meta.ChunkVersion{}, nil, Result{}, errors.Wrap(err, "moveChunk: load chunk record")
	}
	if chunk.Min.Compare(opts.Min) != 0 || chunk.Max.Compare(opts.Max) != 0 {
		return meta.ChunkVersion{}, meta.ChunkVersion{}, nil, Result{
			Stale: true, CurrMin: chunk.Min, CurrMax: chunk.Max,
		}, fmt.Errorf("moveChunk %s: stored range differs from request, a split happened", opts.NS)
	}
	if chunk.Owner != opts.From {
		return meta.ChunkVersion{}, meta.ChunkVersion{}, nil, Result{Stale: true}, fmt.Errorf("moveChunk %s: already moved away from %s", opts.NS, opts.From)
	}

	highest, err := c.store.HighestVersionChunk(ctx, opts.NS)
	if err != nil {
		return meta.ChunkVersion{}, meta.ChunkVersion{}, nil, Result{}, errors.Wrap(err, "moveChunk: load highest version")
	}
	if highest.Version.Less(chunk.Version) {
		return meta.ChunkVersion{}, meta.ChunkVersion{}, nil, Result{Stale: true}, fmt.Errorf("moveChunk %s: stale view, maxVersion < localVersion", opts.NS)
	}

	linked, err = c.store.LinkedNamespaces(ctx, opts.NS)
	if err != nil {
		return meta.ChunkVersion{}, meta.ChunkVersion{}, nil, Result{}, errors.Wrap(err, "moveChunk: load linked namespaces")
	}
	eg, egCtx := errgroup.WithContext(ctx)
	var (
		staleMu sync.Mutex
		staleNS string
	)
	for _, ns := range linked {
		ns := ns
		eg.Go(func() error {
			lc, err := c.store.HighestVersionChunk(egCtx, ns)
			if err != nil {
				return errors.Wrapf(err, "moveChunk: refresh linked ns %s", ns)
			}
			if lc.Version.Major == 0 {
				staleMu.Lock()
				staleNS = ns
				staleMu.Unlock()
				return fmt.Errorf("moveChunk %s: linked ns %s has zero major version", opts.NS, ns)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return meta.ChunkVersion{}, meta.ChunkVersion{}, nil, Result{Stale: staleNS != ""}, err
	}

	return chunk.Version, highest.Version, linked, Result{}, nil
}

// step3Prime starts the Donor Group, checks the too-big guard, then primes
// the recipient via _recvChunkStart/_recvChunkStartOne (spec.md §4.4 step
// 3).
func (c *Coordinator) step3Prime(
	ctx context.Context, opts Options, migID meta.MigrationId, group *xs.DonorGroup, recipient rpc.RecipientClient, linked []string,
) (Result, error) {
	namespaces := append([]string{opts.NS}, linked...)
	rng := &meta.Range{NS: opts.NS, Min: opts.Min, Max: opts.Max, Pattern: opts.Pattern}
	if err := group.Start(migID, namespaces, rng, opts.Pattern); err != nil {
		return Result{}, err
	}

	tooBigNS, estSize, err := group.StoreCurrentLocs(ctx, opts.MaxChunkSizeBytes)
	if err != nil {
		group.Done()
		return Result{}, err
	}
	if tooBigNS != "" {
		group.Done()
		return Result{ChunkTooBig: true, EstimatedChunkSize: estSize}, nil
	}

	startResp, err := recipient.RecvChunkStart(ctx, rpc.RecvChunkStartReq{
		NS: opts.NS, From: opts.From, Min: opts.Min, Max: opts.Max, Pattern: opts.Pattern,
		ConfigServer: opts.ConfigDB, SecondaryThrottle: opts.SecondaryThrottle, MigrateID: migID,
	})
	if err != nil || !startResp.Started {
		group.Done()
		if err == nil {
			err = fmt.Errorf("moveChunk %s: recipient declined _recvChunkStart: %s", opts.NS, startResp.Errmsg)
		}
		return Result{}, err
	}

	for _, ns := range linked {
		oneResp, err := recipient.RecvChunkStartOne(ctx, rpc.RecvChunkStartOneReq{NS: ns, MigrateID: migID})
		if err != nil || !oneResp.Started {
			group.Done()
			if err == nil {
				err = fmt.Errorf("moveChunk %s: recipient declined _recvChunkStartOne(%s): %s", opts.NS, ns, oneResp.Errmsg)
			}
			return Result{}, err
		}
	}

	return Result{}, nil
}

// step4WaitSteady polls _recvChunkStatus with an exponential (capped) backoff
// up to 86400 iterations, about one day of wallclock (spec.md §4.4 step 4).
func (c *Coordinator) step4WaitSteady(ctx context.Context, opts Options, migID meta.MigrationId, group *xs.DonorGroup, recipient rpc.RecipientClient) error {
	maxPolls := config.GCO.Get().RecvChunkStatusMaxPolls
	pollMax := config.GCO.Get().Timeout.RecvChunkPoll

	for i := 0; i < maxPolls; i++ {
		if c.interrupt != nil && c.interrupt.Interrupted() {
			_, _ = recipient.RecvChunkAbort(ctx, migID)
			return fmt.Errorf("moveChunk %s: interrupted while waiting for steady", opts.NS)
		}

		status, err := recipient.RecvChunkStatus(ctx, migID)
		if err != nil {
			return err
		}
		if status.NS != opts.NS || status.From != opts.From || status.Min.Compare(opts.Min) != 0 || status.Max.Compare(opts.Max) != 0 {
			return fmt.Errorf("moveChunk %s: recipient status no longer matches this migration, it must have aborted and accepted another", opts.NS)
		}
		if status.State == string(xs.StFail) {
			return fmt.Errorf("moveChunk %s: recipient failed: %s", opts.NS, status.Errmsg)
		}
		if group.MBUsed() > float64(config.GCO.Get().CaptureMemoryCapBytes)/(1024*1024) {
			_, _ = recipient.RecvChunkAbort(ctx, migID)
			return fmt.Errorf("moveChunk %s: capture buffer memory cap exceeded", opts.NS)
		}
		if status.State == string(xs.StSteady) {
			return nil
		}

		backoff := time.Duration(1<<uint(min(i, 10))) * time.Millisecond
		if backoff > pollMax {
			backoff = pollMax
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("moveChunk %s: recipient never reached steady after %d polls", opts.NS, maxPolls)
}

// step5Commit runs the critical-section commit (spec.md §4.4 step 5).
func (c *Coordinator) step5Commit(
	ctx context.Context, opts Options, group *xs.DonorGroup, recipient rpc.RecipientClient, localVersion, maxVersion meta.ChunkVersion,
) (nextVersion meta.ChunkVersion, err error) {
	unlockNS, err := c.locks.NSWrite(ctx, opts.NS)
	if err != nil {
		return meta.ChunkVersion{}, err
	}

	var critStart time.Time
	if c.metrics != nil {
		critStart = time.Now()
	}

	// 5.1: should be unreachable - clone must have fully drained by the time
	// the recipient reports steady.
	debug.Assert(group.CloneLocsRemaining() == 0, "moveChunk: cloneLocsRemaining != 0 entering critical section")

	// 5.2: the distributed lock is held for the coordinator's whole
	// lifetime (see Move); nothing to reacquire here.

	group.SetInCriticalSection(true)
	defer func() {
		group.SetInCriticalSection(false)
		if c.metrics != nil {
			c.metrics.CriticalSection.Observe(time.Since(critStart).Seconds())
		}
	}()

	nextVersion = maxVersion.IncMajor()
	if err := c.store.DonateChunk(ctx, opts.NS, opts.Min, opts.Max, nextVersion); err != nil {
		unlockNS()
		return meta.ChunkVersion{}, errors.Wrap(err, "moveChunk: donateChunk")
	}
	c.guards.DonateOutgoing(opts.NS, &meta.Range{NS: opts.NS, Min: opts.Min, Max: opts.Max, Pattern: opts.Pattern})

	unlockNS()

	migID := meta.MigrationId(group.UUID())
	if _, err := recipient.RecvChunkCommit(ctx, migID); err != nil {
		unlockGlobal, lockErr := c.locks.GlobalWrite(ctx)
		if lockErr == nil {
			defer unlockGlobal()
		}
		_ = c.store.UndoDonateChunk(ctx, opts.NS, localVersion)
		c.guards.ForgetOutgoing(opts.NS)
		return meta.ChunkVersion{}, errors.Wrap(err, "moveChunk: _recvChunkCommit failed")
	}

	batch := cluster.ApplyOpsBatch{
		Moved: cluster.ChunkUpdate{NS: opts.NS, Min: opts.Min, Max: opts.Max, Owner: opts.To, Version: nextVersion},
		// The store's current highest version is nextVersion, not maxVersion:
		// donateChunk (above) already advanced it as donor-local bookkeeping
		// ahead of this cluster-wide commit, so the CAS guard against a
		// concurrent, external modification must compare against that.
		Precondition: nextVersion,
	}
	if remaining, ok, rerr := c.store.RemainingChunk(ctx, opts.NS, opts.From, opts.Min, opts.Max); rerr != nil {
		nlog.Warnf("moveChunk %s: remainingChunk lookup failed, skipping stale-router minor bump: %v", opts.NS, rerr)
	} else if ok {
		bumped := remaining.Version.IncMinor()
		batch.Bump = &cluster.ChunkUpdate{NS: opts.NS, Min: remaining.Min, Max: remaining.Max, Owner: remaining.Owner, Version: bumped}
	}
	outcome, cmErr := c.store.CommitMove(ctx, batch)
	switch outcome {
	case cluster.CommitOK:
		if c.metrics != nil {
			c.metrics.CommitOutcomes.WithLabelValues("ok").Inc()
		}
		_ = c.store.AppendChangeLog(ctx, cluster.ChangeLogEntry{
			Action: "moveChunk.commit", NS: opts.NS, At: time.Now(),
			Detail: map[string]interface{}{"from": opts.From, "to": opts.To, "version": nextVersion.String()},
		})
		return nextVersion, nil

	case cluster.CommitPrepareConfigsFailed:
		if c.metrics != nil {
			c.metrics.CommitOutcomes.WithLabelValues("prepare_failed").Inc()
		}
		_ = c.store.UndoDonateChunk(ctx, opts.NS, localVersion)
		c.guards.ForgetOutgoing(opts.NS)
		return meta.ChunkVersion{}, errors.Wrap(cmErr, "moveChunk: metadata authority unreachable, update guaranteed not applied")

	default: // CommitUnknown
		nlog.Warnf("moveChunk %s: commit outcome unknown (%v), sleeping before reconfirming", opts.NS, cmErr)
		time.Sleep(config.GCO.Get().Timeout.CommitReconfirm)
		reread, rerr := c.store.HighestVersionChunk(ctx, opts.NS)
		if rerr == nil && reread.Version.SameEpoch(nextVersion) && reread.Version.Compare(nextVersion) == 0 {
			if c.metrics != nil {
				c.metrics.CommitOutcomes.WithLabelValues("unknown_confirmed").Inc()
			}
			_ = c.store.AppendChangeLog(ctx, cluster.ChangeLogEntry{
				Action: "moveChunk.commit", NS: opts.NS, At: time.Now(),
				Detail: map[string]interface{}{"from": opts.From, "to": opts.To, "version": nextVersion.String(), "confirmed_after_unknown": true},
			})
			return nextVersion, nil
		}
		// State has diverged between in-memory and stored metadata with no
		// safe way to reconcile at runtime (spec.md §4.4 step 5.7).
		nlog.Errorf("moveChunk %s: commit outcome unknown and unconfirmed; in-memory/stored metadata have diverged, terminating", opts.NS)
		os.Exit(1)
		return meta.ChunkVersion{}, nil // unreachable
	}
}

func (c *Coordinator) step6Cleanup(ctx context.Context, opts Options) {
	namespaces := append([]string{opts.NS}, opts.LinkedNamespaces...)
	for _, ns := range namespaces {
		if err := c.rangeDel.Delete(ctx, ns, opts.Min, opts.Max, opts.WaitForDelete); err != nil {
			nlog.Warnf("moveChunk %s: range delete on %s: %v", opts.NS, ns, err)
		}
	}
}

func (c *Coordinator) step7Done(ctx context.Context, opts Options, group *xs.DonorGroup, start time.Time, nextVersion meta.ChunkVersion, timer *stepTimer) {
	c.guards.ForgetOutgoing(opts.NS)
	group.Done()
	_ = c.store.AppendChangeLog(ctx, cluster.ChangeLogEntry{
		Action: "moveChunk.from", NS: opts.NS, At: time.Now(),
		Detail: map[string]interface{}{
			"from": opts.From, "to": opts.To, "version": nextVersion.String(),
			"duration_ms":     time.Since(start).Milliseconds(),
			"step_timings_ms": timer.millis(),
		},
	})
}
