package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/tandasync/internal/clock"
	"github.com/roach88/tandasync/internal/metrics"
	"github.com/roach88/tandasync/internal/store"
)

// Registry is the durable index of failed deposit records.
//
// Thread-safety: all methods are safe for concurrent use. Record reads and
// writes happen under one mutex; strategies are invoked without it.
type Registry struct {
	kv      store.KV
	clock   clock.Clock
	policy  Policy
	retry   RetryStrategy
	expel   ExpulsionStrategy
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	expelling map[Key]struct{}
	flight    singleflight.Group
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the prometheus collectors. Default: unregistered.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// NewRegistry creates a Registry over kv. Zero fields of policy take
// DefaultPolicy values.
func NewRegistry(
	kv store.KV,
	clk clock.Clock,
	policy Policy,
	retry RetryStrategy,
	expel ExpulsionStrategy,
	opts ...Option,
) *Registry {
	r := &Registry{
		kv:        kv,
		clock:     clk,
		policy:    policy.withDefaults(),
		retry:     retry,
		expel:     expel,
		logger:    slog.New(slog.DiscardHandler),
		expelling: make(map[Key]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.NewUnregistered()
	}
	return r
}

// Policy returns the effective policy.
func (r *Registry) Policy() Policy {
	return r.policy
}

// Get returns the record for key or ErrRecordNotFound.
func (r *Registry) Get(ctx context.Context, key Key) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked(ctx, key)
}

// List returns every record ordered by (tanda, wallet, cycle).
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(ctx, keyPrefix)
}

// Due returns pending records whose NextRetryAt is not after now, oldest
// first.
func (r *Registry) Due(ctx context.Context, now time.Time) ([]Record, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	var due []Record
	for _, rec := range all {
		if rec.Status == StatusPendingRetry && !rec.NextRetryAt.After(now) {
			due = append(due, rec)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].NextRetryAt.Before(due[j].NextRetryAt)
	})
	return due, nil
}

// Transition applies mutate to the record for key if its status equals
// expected, and persists the result. It returns the stored record and
// whether the swap happened. A missing record is ErrRecordNotFound.
func (r *Registry) Transition(ctx context.Context, key Key, expected Status, mutate func(*Record)) (Record, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.loadLocked(ctx, key)
	if err != nil {
		return Record{}, false, err
	}
	if rec.Status != expected {
		return rec, false, nil
	}
	mutate(&rec)
	if err := r.saveLocked(ctx, &rec, expected); err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// RecordFailure registers a failed contribution for key.
//
// The first failure creates a pending record due after the grace period.
// A later failure on a pending record counts another attempt; reaching
// MaxAttempts fails the record permanently and runs the expulsion before
// returning. A terminal resolved or user_expelled record is replaced by a
// fresh one.
func (r *Registry) RecordFailure(ctx context.Context, key Key, message string) (Record, error) {
	if err := key.Validate(); err != nil {
		return Record{}, err
	}

	rec, err := r.recordFailure(ctx, key, message)
	if err != nil {
		return Record{}, err
	}
	if rec.Status == StatusFailedPermanent {
		rec, _, err = r.finishExpulsion(ctx, key)
	}
	return rec, err
}

func (r *Registry) recordFailure(ctx context.Context, key Key, message string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	rec, err := r.loadLocked(ctx, key)
	switch {
	case errors.Is(err, ErrRecordNotFound), err == nil && rec.Status.Sweepable():
		prev := rec.Status
		rec = Record{
			Key:           key,
			FirstFailedAt: now,
			LastAttemptAt: now,
			AttemptCount:  1,
			ErrorMessage:  message,
			Status:        StatusPendingRetry,
			NextRetryAt:   now.Add(r.policy.GracePeriod),
		}
		if err := r.saveLocked(ctx, &rec, prev); err != nil {
			return Record{}, err
		}
		r.logger.Info("deposit failure recorded",
			"tanda_id", key.TandaID,
			"wallet", key.Wallet,
			"cycle", key.Cycle,
			"next_retry_at", rec.NextRetryAt,
		)
		return rec, nil

	case err != nil:
		return Record{}, err

	case rec.Status != StatusPendingRetry:
		return rec, conflict(rec, "cannot record failure on %s record", rec.Status)
	}

	rec.AttemptCount++
	rec.LastAttemptAt = now
	rec.ErrorMessage = message
	rec.NextRetryAt = now.Add(r.policy.RetryInterval)
	if rec.AttemptCount >= r.policy.MaxAttempts {
		rec.Status = StatusFailedPermanent
	}
	if err := r.saveLocked(ctx, &rec, StatusPendingRetry); err != nil {
		return Record{}, err
	}
	r.logger.Info("deposit failure counted",
		"tanda_id", key.TandaID,
		"wallet", key.Wallet,
		"cycle", key.Cycle,
		"attempt", rec.AttemptCount,
		"status", rec.Status,
	)
	return rec, nil
}

// Process runs one retry of a pending record: pending_retry → retrying,
// invoke the retry strategy, then resolved, pending_retry or
// failed_permanent. A strategy error wrapping ErrAbandoned cancels the
// record instead. A record not in pending_retry yields a CONFLICT error.
func (r *Registry) Process(ctx context.Context, key Key) (Record, error) {
	rec, ok, err := r.Transition(ctx, key, StatusPendingRetry, func(rec *Record) {
		if rec.AttemptCount >= r.policy.MaxAttempts {
			rec.Status = StatusFailedPermanent
			return
		}
		rec.Status = StatusRetrying
		rec.AttemptCount++
		rec.LastAttemptAt = r.clock.Now()
	})
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return rec, conflict(rec, "record is %s, not %s", rec.Status, StatusPendingRetry)
	}
	if rec.Status == StatusFailedPermanent {
		rec, _, err = r.finishExpulsion(ctx, key)
		return rec, err
	}

	success, attemptErr := r.attempt(ctx, rec)

	// Outcome must be recorded even if the caller has gone away.
	ctx = context.WithoutCancel(ctx)

	if errors.Is(attemptErr, ErrAbandoned) {
		return r.abandon(ctx, key, attemptErr.Error())
	}

	if success {
		r.metrics.RetryAttempts.WithLabelValues("success").Inc()
		res, ok, err := r.Transition(ctx, key, StatusRetrying, func(rec *Record) {
			rec.Status = StatusResolved
			rec.ErrorMessage = ""
		})
		if err != nil {
			return Record{}, err
		}
		if ok {
			r.logger.Info("deposit retry succeeded",
				"tanda_id", key.TandaID,
				"wallet", key.Wallet,
				"cycle", key.Cycle,
				"attempt", res.AttemptCount,
			)
		}
		return res, nil
	}

	r.metrics.RetryAttempts.WithLabelValues("failure").Inc()
	message := "retry declined"
	if attemptErr != nil {
		message = attemptErr.Error()
	}
	res, ok, err := r.Transition(ctx, key, StatusRetrying, func(rec *Record) {
		rec.ErrorMessage = message
		if rec.AttemptCount >= r.policy.MaxAttempts {
			rec.Status = StatusFailedPermanent
			return
		}
		rec.Status = StatusPendingRetry
		rec.NextRetryAt = r.clock.Now().Add(r.policy.RetryInterval)
	})
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return res, nil
	}
	r.logger.Warn("deposit retry failed",
		"tanda_id", key.TandaID,
		"wallet", key.Wallet,
		"cycle", key.Cycle,
		"attempt", res.AttemptCount,
		"status", res.Status,
		"error", message,
	)
	if res.Status == StatusFailedPermanent {
		res, _, err = r.finishExpulsion(ctx, key)
	}
	return res, err
}

// abandon cancels a retrying record whose strategy reported the deposit
// is no longer owed. The claimed attempt is given back.
func (r *Registry) abandon(ctx context.Context, key Key, reason string) (Record, error) {
	res, ok, err := r.Transition(ctx, key, StatusRetrying, func(rec *Record) {
		rec.Status = StatusUserExpelled
		rec.AttemptCount--
		rec.ErrorMessage = reason
	})
	if err != nil {
		return Record{}, err
	}
	if ok {
		r.metrics.RetryAttempts.WithLabelValues("abandoned").Inc()
		r.logger.Info("deposit retries abandoned",
			"tanda_id", key.TandaID,
			"wallet", key.Wallet,
			"cycle", key.Cycle,
			"reason", reason,
		)
	}
	return res, nil
}

// ForceRetry runs Process immediately, ignoring NextRetryAt. Concurrent
// calls for the same key share one attempt.
func (r *Registry) ForceRetry(ctx context.Context, key Key) (Record, error) {
	v, err, _ := r.flight.Do(key.String(), func() (any, error) {
		return r.Process(ctx, key)
	})
	rec, _ := v.(Record)
	return rec, err
}

// MarkAsResolved records an external confirmation of the deposit.
//
// It wins over any in-flight attempt: a retrying record becomes resolved
// and the attempt's outcome is discarded. Records already expelled are
// left alone and yield a CONFLICT error.
func (r *Registry) MarkAsResolved(ctx context.Context, key Key) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.loadLocked(ctx, key)
	if err != nil {
		return Record{}, err
	}
	switch rec.Status {
	case StatusResolved:
		return rec, nil
	case StatusFailedPermanent, StatusUserExpelled:
		return rec, conflict(rec, "cannot resolve %s record", rec.Status)
	}

	prev := rec.Status
	rec.Status = StatusResolved
	rec.ErrorMessage = ""
	if err := r.saveLocked(ctx, &rec, prev); err != nil {
		return Record{}, err
	}
	r.logger.Info("deposit resolved",
		"tanda_id", key.TandaID,
		"wallet", key.Wallet,
		"cycle", key.Cycle,
		"previous_status", prev,
	)
	return rec, nil
}

// Cancel moves an active record straight to user_expelled. Used when the
// member is removed by another path.
func (r *Registry) Cancel(ctx context.Context, key Key) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.loadLocked(ctx, key)
	if err != nil {
		return Record{}, err
	}
	if !rec.Status.Active() {
		return rec, conflict(rec, "cannot cancel %s record", rec.Status)
	}
	if err := r.cancelLocked(ctx, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// CancelAll cancels every active record of wallet in tandaID, across all
// cycles. An empty wallet cancels the whole tanda. Returns the count.
func (r *Registry) CancelAll(ctx context.Context, tandaID, wallet string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	recs, err := r.listLocked(ctx, pairPrefix(tandaID, wallet))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range recs {
		if !rec.Status.Active() {
			continue
		}
		if err := r.cancelLocked(ctx, &rec); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (r *Registry) cancelLocked(ctx context.Context, rec *Record) error {
	prev := rec.Status
	rec.Status = StatusUserExpelled
	if err := r.saveLocked(ctx, rec, prev); err != nil {
		return err
	}
	r.logger.Info("deposit retries cancelled",
		"tanda_id", rec.TandaID,
		"wallet", rec.Wallet,
		"cycle", rec.Cycle,
	)
	return nil
}

// Sweep deletes resolved and user_expelled records last updated more than
// CleanupAge before now. Returns the number deleted.
func (r *Registry) Sweep(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	recs, err := r.listLocked(ctx, keyPrefix)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range recs {
		if !rec.Status.Sweepable() || now.Sub(rec.UpdatedAt) <= r.policy.CleanupAge {
			continue
		}
		if err := r.kv.Delete(ctx, rec.storageKey()); err != nil {
			return n, fmt.Errorf("sweep %s: %w", rec.Key, err)
		}
		n++
	}
	if n > 0 {
		r.metrics.SweptRecords.Add(float64(n))
		r.logger.Debug("swept terminal records", "count", n)
	}
	return n, nil
}

// Recover repairs records left mid-flight by a crash: retrying records go
// back to pending_retry due now, and failed_permanent records finish their
// expulsion. Returns the number of records touched.
func (r *Registry) Recover(ctx context.Context) (int, error) {
	recs, err := r.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range recs {
		switch rec.Status {
		case StatusRetrying:
			_, ok, err := r.Transition(ctx, rec.Key, StatusRetrying, func(rec *Record) {
				rec.Status = StatusPendingRetry
				rec.NextRetryAt = r.clock.Now()
			})
			if err != nil {
				return n, err
			}
			if ok {
				n++
			}
		case StatusFailedPermanent:
			_, done, err := r.finishExpulsion(ctx, rec.Key)
			if err != nil {
				return n, err
			}
			if done {
				n++
			}
		}
	}
	if n > 0 {
		r.logger.Info("recovered interrupted records", "count", n)
	}
	return n, nil
}

// finishExpulsion runs the expulsion strategy for the failed_permanent
// record at key, marks it user_expelled whatever the strategy returned,
// and cancels the wallet's other records in the same tanda. done is false
// when the record had already left failed_permanent or another caller is
// expelling it; the strategy is not invoked then.
func (r *Registry) finishExpulsion(ctx context.Context, key Key) (_ Record, done bool, _ error) {
	r.mu.Lock()
	rec, err := r.loadLocked(ctx, key)
	if err != nil {
		r.mu.Unlock()
		return Record{}, false, err
	}
	if _, busy := r.expelling[key]; busy || rec.Status != StatusFailedPermanent {
		r.mu.Unlock()
		return rec, false, nil
	}
	r.expelling[key] = struct{}{}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.expelling, key)
		r.mu.Unlock()
	}()

	if err := r.runExpel(ctx, rec); err != nil {
		r.metrics.ExpulsionErrors.Inc()
		r.logger.Warn("expulsion strategy failed",
			"tanda_id", rec.TandaID,
			"wallet", rec.Wallet,
			"cycle", rec.Cycle,
			"error", err,
		)
	}

	ctx = context.WithoutCancel(ctx)
	final, ok, err := r.Transition(ctx, key, StatusFailedPermanent, func(rec *Record) {
		rec.Status = StatusUserExpelled
	})
	if err != nil {
		return Record{}, false, err
	}
	if !ok {
		return final, false, nil
	}
	r.metrics.Expulsions.Inc()
	r.logger.Info("member expelled for nonpayment",
		"tanda_id", rec.TandaID,
		"wallet", rec.Wallet,
		"cycle", rec.Cycle,
		"attempt", rec.AttemptCount,
	)

	if _, err := r.CancelAll(ctx, rec.TandaID, rec.Wallet); err != nil {
		return final, true, fmt.Errorf("cancel sibling records: %w", err)
	}
	return final, true, nil
}

func (r *Registry) attempt(ctx context.Context, rec Record) (ok bool, err error) {
	if r.retry == nil {
		return false, errors.New("no retry strategy configured")
	}
	ctx, cancel := r.callContext(ctx)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			ok, err = false, fmt.Errorf("retry strategy panicked: %v", p)
		}
	}()
	return r.retry.AttemptRetry(ctx, rec)
}

func (r *Registry) runExpel(ctx context.Context, rec Record) (err error) {
	if r.expel == nil {
		return nil
	}
	ctx, cancel := r.callContext(ctx)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("expulsion strategy panicked: %v", p)
		}
	}()
	return r.expel.Expel(ctx, rec)
}

func (r *Registry) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.policy.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.policy.CallTimeout)
}

func (r *Registry) loadLocked(ctx context.Context, key Key) (Record, error) {
	var rec Record
	err := store.GetJSON(ctx, r.kv, key.storageKey(), &rec)
	if errors.Is(err, store.ErrNotFound) {
		return Record{}, fmt.Errorf("%s: %w", key, ErrRecordNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("load record %s: %w", key, err)
	}
	return rec, nil
}

// saveLocked persists rec, stamping UpdatedAt, and counts the transition
// when the status changed from prev.
func (r *Registry) saveLocked(ctx context.Context, rec *Record, prev Status) error {
	rec.UpdatedAt = r.clock.Now()
	if err := store.PutJSON(ctx, r.kv, rec.storageKey(), rec); err != nil {
		return fmt.Errorf("save record %s: %w", rec.Key, err)
	}
	if rec.Status != prev {
		r.metrics.Transitions.WithLabelValues(string(rec.Status)).Inc()
	}
	return nil
}

func (r *Registry) listLocked(ctx context.Context, prefix string) ([]Record, error) {
	keys, err := r.kv.Keys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	recs := make([]Record, 0, len(keys))
	for _, k := range keys {
		var rec Record
		if err := store.GetJSON(ctx, r.kv, k, &rec); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("list records: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
