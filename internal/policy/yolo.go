package policy

import (
	"context"
	"time"

	"github.com/Djtony707/TITAN/internal/store"
	"github.com/Djtony707/TITAN/internal/titanerr"
)

const yoloStateKey = "yolo_armed_until"

// StoreRiskState persists yolo arming in the relational store so the
// executor, the scheduler and the CLI all observe the same expiry.
type StoreRiskState struct {
	store *store.Store
	max   time.Duration
}

// NewStoreRiskState builds the shared risk state. max bounds how long a
// single arming can last regardless of what the operator asked for.
func NewStoreRiskState(s *store.Store, max time.Duration) *StoreRiskState {
	if max <= 0 {
		max = time.Hour
	}
	return &StoreRiskState{store: s, max: max}
}

// YoloArmedUntil returns the wall-clock expiry of the current arming, or the
// zero time when disarmed.
func (r *StoreRiskState) YoloArmedUntil(ctx context.Context) (time.Time, error) {
	v, err := r.store.GetState(ctx, yoloStateKey)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, titanerr.Wrap(titanerr.KindInternal, "policy.YoloArmedUntil", "parse stored expiry", err)
	}
	return t, nil
}

// Arm sets the yolo expiry. Only the local terminal surface calls this; the
// HTTP surface has no route to it.
func (r *StoreRiskState) Arm(ctx context.Context, d time.Duration) (time.Time, error) {
	if d <= 0 {
		return time.Time{}, titanerr.New(titanerr.KindValidation, "policy.Arm", "duration must be positive")
	}
	if d > r.max {
		d = r.max
	}
	until := time.Now().Add(d).UTC()
	if err := r.store.SetState(ctx, yoloStateKey, until.Format(time.RFC3339)); err != nil {
		return time.Time{}, err
	}
	return until, nil
}

// Disarm clears the arming immediately.
func (r *StoreRiskState) Disarm(ctx context.Context) error {
	return r.store.SetState(ctx, yoloStateKey, "")
}
