package xs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shardkit/migrate/cluster"
	"github.com/shardkit/migrate/cmn/atomic"
	"github.com/shardkit/migrate/cmn/config"
	"github.com/shardkit/migrate/cmn/nlog"
	"github.com/shardkit/migrate/meta"
	"github.com/shardkit/migrate/rpc"
)

// RState is one state of the Recipient Session's state machine (spec.md
// §4.5).
type RState string

const (
	StReady       RState = "READY"
	StClone       RState = "CLONE"
	StCatchup     RState = "CATCHUP"
	StSteady      RState = "STEADY"
	StCommitStart RState = "COMMIT_START"
	StDone        RState = "DONE"
	StFail        RState = "FAIL"
	StAbort       RState = "ABORT"
)

// RecipientSession drives one namespace's READY -> ... -> DONE/FAIL/ABORT
// machine on a background goroutine (spec.md §4.5), the same
// factory-builds-a-long-lived-worker shape as the teacher's XactTCObjs,
// pulling from the donor instead of a transform pipeline.
type RecipientSession struct {
	ns       string
	from     string
	migID    meta.MigrationId
	rng      *meta.Range
	pattern  meta.ShardKeyPattern
	epoch    string
	throttle bool

	donor      rpc.DonorClient
	ns0        cluster.NamespaceProvisioner
	mutator    cluster.Mutator
	accessor   cluster.RecordAccessor
	repl       cluster.ReplicationGate
	rangeDel   cluster.RangeDeleter
	guards     *RangeGuards
	metrics    *rpc.Metrics
	majority   int

	numCloned, clonedBytes, numCatchup, numSteady atomic.Int64

	mu           sync.Mutex
	cond         *sync.Cond
	state        RState
	err          error
	abortReq     bool
	wantCommit   bool
	postCommitTx bool // at least one _transferMods round drained post-COMMIT_START

	doneCh chan struct{}
}

func NewRecipientSession(
	ns, from string, migID meta.MigrationId, rng *meta.Range, pattern meta.ShardKeyPattern, epoch string, throttle bool,
	donor rpc.DonorClient, ns0 cluster.NamespaceProvisioner, mutator cluster.Mutator, accessor cluster.RecordAccessor,
	repl cluster.ReplicationGate, rangeDel cluster.RangeDeleter, guards *RangeGuards, metrics *rpc.Metrics, majority int,
) *RecipientSession {
	r := &RecipientSession{
		ns: ns, from: from, migID: migID, rng: rng, pattern: pattern, epoch: epoch, throttle: throttle,
		donor: donor, ns0: ns0, mutator: mutator, accessor: accessor, repl: repl, rangeDel: rangeDel,
		guards: guards, metrics: metrics, majority: majority,
		state:  StReady,
		doneCh: make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *RecipientSession) UUID() string { return string(r.migID) }
func (r *RecipientSession) Kind() string { return "recipient-session" }
func (r *RecipientSession) NS() string   { return r.ns }

func (r *RecipientSession) State() RState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *RecipientSession) setState(s RState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	r.cond.Broadcast()
}

func (r *RecipientSession) fail(err error) {
	r.mu.Lock()
	r.state = StFail
	r.err = err
	r.mu.Unlock()
	r.guards.ForgetPending(r.ns)
	r.cond.Broadcast()
	nlog.Errorf("recipient %s: FAIL: %v", r.ns, err)
}

// Abort is externally settable; the state machine checks it at every loop
// boundary (spec.md §4.5 "Abort").
func (r *RecipientSession) Abort() {
	r.mu.Lock()
	r.abortReq = true
	r.mu.Unlock()
	r.cond.Broadcast()
}

func (r *RecipientSession) aborted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.abortReq
}

// StartCommit is the external startCommit signal from _recvChunkCommit
// (spec.md §4.5 step 5): it transitions COMMIT_START and blocks up to
// commitWait for DONE (or FAIL), guaranteeing at least one more
// _transferMods round is drained after the transition.
func (r *RecipientSession) StartCommit(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StSteady {
		st := r.state
		r.mu.Unlock()
		return fmt.Errorf("recipient %s: startCommit while in state %s, want STEADY", r.ns, st)
	}
	r.wantCommit = true
	r.state = StCommitStart
	r.mu.Unlock()
	r.cond.Broadcast()

	timeout := config.GCO.Get().Timeout.CommitWait
	deadline := time.Now().Add(timeout)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			r.cond.Broadcast()
		case <-timer.C:
			r.cond.Broadcast()
		case <-stopWatch:
		}
	}()

	r.mu.Lock()
	defer r.mu.Unlock()
	for r.state != StDone && r.state != StFail && r.state != StAbort {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("recipient %s: startCommit timed out waiting for DONE", r.ns)
		}
		r.cond.Wait()
	}
	if r.state != StDone {
		if r.err != nil {
			return r.err
		}
		return fmt.Errorf("recipient %s: commit ended in state %s", r.ns, r.state)
	}
	return nil
}

// Done is closed once the session reaches a terminal state.
func (r *RecipientSession) Done() <-chan struct{} { return r.doneCh }

func (r *RecipientSession) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *RecipientSession) Counts() rpc.Counts {
	return rpc.Counts{
		Cloned:      r.numCloned.Load(),
		ClonedBytes: r.clonedBytes.Load(),
		Catchup:     r.numCatchup.Load(),
		Steady:      r.numSteady.Load(),
	}
}

// Run drives the whole state machine to completion. Callers launch it as
// `go session.Run(ctx)`, one goroutine per namespace in the group (spec.md
// §5 "one background worker thread per namespace").
func (r *RecipientSession) Run(ctx context.Context) {
	defer close(r.doneCh)

	if r.aborted() {
		r.toAbort()
		return
	}
	if err := r.step0CreateNamespace(ctx); err != nil {
		r.fail(err)
		return
	}
	if err := r.step1PreCleanup(ctx); err != nil {
		r.fail(err)
		return
	}
	r.setState(StClone)
	if err := r.step2Clone(ctx); err != nil {
		r.fail(err)
		return
	}
	if r.aborted() {
		r.toAbort()
		return
	}
	r.setState(StCatchup)
	if err := r.step3Catchup(ctx); err != nil {
		r.fail(err)
		return
	}
	if r.aborted() {
		r.toAbort()
		return
	}
	if ok := r.step4ReplicationDrain(ctx); !ok {
		r.fail(fmt.Errorf("recipient %s: replication drain timed out", r.ns))
		return
	}
	r.setState(StSteady)
	r.step5SteadyThroughDone(ctx)
}

func (r *RecipientSession) toAbort() {
	r.guards.ForgetPending(r.ns)
	_ = r.rangeDel.Delete(context.Background(), r.ns, r.rng.Min, r.rng.Max, false)
	r.setState(StAbort)
}

func (r *RecipientSession) step0CreateNamespace(ctx context.Context) error {
	exists, err := r.ns0.NamespaceExists(ctx, r.ns)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return r.ns0.CreateLike(ctx, r.ns, r.from)
}

func (r *RecipientSession) step1PreCleanup(ctx context.Context) error {
	if err := r.rangeDel.Delete(ctx, r.ns, r.rng.Min, r.rng.Max, true); err != nil {
		return err
	}
	r.guards.NotePending(r.ns, r.rng, r.epoch)
	return nil
}

func (r *RecipientSession) step2Clone(ctx context.Context) error {
	for {
		if r.aborted() {
			return nil
		}
		resp, err := r.donor.MigrateClone(ctx, r.ns)
		if err != nil {
			return err
		}
		if len(resp.Objects) == 0 {
			return nil
		}
		for _, doc := range resp.Objects {
			if err := r.applyClonedDoc(doc); err != nil {
				return err
			}
			r.numCloned.Add(1)
			r.clonedBytes.Add(docSize(doc))
			if r.metrics != nil {
				r.metrics.ClonedObjects.Inc()
				r.metrics.ClonedBytes.Add(float64(docSize(doc)))
			}
		}
		if r.throttle {
			r.repl.OpReplicatedEnough(ctx, r.majority, config.GCO.Get().Timeout.SecondaryThrottle)
		}
	}
}

// applyClonedDoc upserts doc, refusing (uassert-style) a local document
// sharing its _id outside the migrated range (spec.md §4.5 step 2
// "conflict -> uassert fail").
func (r *RecipientSession) applyClonedDoc(doc meta.Document) error {
	id := cluster.NewDocumentId(doc["_id"])
	existing, ok, err := r.accessor.LoadByID(r.ns, id)
	if err != nil {
		return err
	}
	if ok && !r.rng.IsInRange(existing) {
		return fmt.Errorf("recipient %s: cloned doc _id=%v conflicts with an out-of-range local document", r.ns, id.Raw)
	}
	return r.mutator.Upsert(r.ns, doc)
}

func (r *RecipientSession) step3Catchup(ctx context.Context) error {
	deadline := time.Now().Add(config.GCO.Get().Timeout.CatchupWindow)
	for {
		if r.aborted() {
			return nil
		}
		resp, err := r.donor.TransferMods(ctx, r.ns)
		if err != nil {
			return err
		}
		if resp.Size == 0 {
			return nil
		}
		n := r.applyBatch(resp)
		r.numCatchup.Add(int64(n))
		if r.metrics != nil {
			r.metrics.CatchupApplied.Add(float64(n))
		}
		if !r.repl.OpReplicatedEnough(ctx, r.majority, 0) {
			if time.Now().After(deadline) {
				return fmt.Errorf("recipient %s: replication lag exceeded catchup window", r.ns)
			}
		} else {
			deadline = time.Now().Add(config.GCO.Get().Timeout.CatchupWindow)
		}
	}
}

func (r *RecipientSession) step4ReplicationDrain(ctx context.Context) bool {
	return r.repl.FlushPendingWrites(ctx, config.GCO.Get().Timeout.ReplicationDrain)
}

// step5SteadyThroughDone implements STEADY -> COMMIT_START -> DONE (spec.md
// §4.5 step 5): poll _transferMods with a 10ms back-off when empty; once
// startCommit flips state to COMMIT_START, guarantee one more non-empty (or
// empty) round is drained before declaring DONE.
func (r *RecipientSession) step5SteadyThroughDone(ctx context.Context) {
	for {
		if r.aborted() {
			r.toAbort()
			return
		}
		committing := r.State() == StCommitStart
		resp, err := r.donor.TransferMods(ctx, r.ns)
		if err != nil {
			r.fail(err)
			return
		}
		if resp.Size > 0 {
			n := r.applyBatch(resp)
			r.numSteady.Add(int64(n))
			if r.metrics != nil {
				r.metrics.SteadyApplied.Add(float64(n))
			}
		}
		if committing {
			r.mu.Lock()
			r.postCommitTx = true
			r.mu.Unlock()
		}

		r.mu.Lock()
		ready := r.state == StCommitStart && r.postCommitTx
		r.mu.Unlock()
		if ready && r.repl.FlushPendingWrites(ctx, config.GCO.Get().Timeout.CommitWait) {
			r.guards.ForgetPending(r.ns)
			r.setState(StDone)
			return
		}

		if resp.Size == 0 {
			select {
			case <-time.After(10 * time.Millisecond):
			case <-ctx.Done():
				r.fail(ctx.Err())
				return
			}
		}
	}
}

// applyBatch implements the shared apply semantics of spec.md §4.5
// "Apply semantics": deletes skip ids whose local full document now lies
// outside [min,max); reloads conflict-check and upsert.
func (r *RecipientSession) applyBatch(resp rpc.TransferModsResp) (applied int) {
	for _, id := range resp.Deleted {
		local, ok, err := r.accessor.LoadByID(r.ns, id)
		if err != nil {
			nlog.Warnf("recipient %s: load %v before delete: %v", r.ns, id.Raw, err)
			continue
		}
		if ok && !r.rng.IsInRange(local) {
			continue // shares an id with an out-of-range doc; don't delete it
		}
		if err := r.mutator.DeleteByID(r.ns, id); err != nil {
			nlog.Warnf("recipient %s: delete %v: %v", r.ns, id.Raw, err)
			continue
		}
		applied++
	}
	for _, doc := range resp.Reload {
		if err := r.applyClonedDoc(doc); err != nil {
			nlog.Warnf("recipient %s: reload %v: %v", r.ns, doc["_id"], err)
			continue
		}
		applied++
	}
	return applied
}
