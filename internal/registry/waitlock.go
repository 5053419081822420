package registry

import (
	"time"

	"github.com/jaakkos/crewmux/internal/fsutil"
)

// Owner wait-lock state transitions. The guard decides what the active wait
// permits; the registry only persists the record.

// BeginOwnerWait arms the wait-lock with a fresh cursor.
func (r *Registry) BeginOwnerWait() error {
	return r.mutate(func(snap *snapshot) error {
		snap.OwnerWait = &OwnerWaitState{Active: true, Since: time.Now().UTC()}
		return nil
	})
}

// ClearOwnerWait disarms the wait-lock and resets the polling counter.
func (r *Registry) ClearOwnerWait() error {
	return r.mutate(func(snap *snapshot) error {
		snap.OwnerWait = nil
		return nil
	})
}

// OwnerWait returns the current wait record, or nil when inactive.
func (r *Registry) OwnerWait() (*OwnerWaitState, error) {
	var state *OwnerWaitState
	err := fsutil.WithLock(r.lockPath(), func() error {
		snap, err := r.load()
		if err != nil {
			return err
		}
		if snap.OwnerWait != nil {
			cp := *snap.OwnerWait
			state = &cp
		}
		return nil
	})
	return state, err
}

// RecordOwnerPoll bumps the consecutive-empty counter on an empty unread
// read and resets it otherwise. Returns the updated count; 0 when the wait
// is not active.
func (r *Registry) RecordOwnerPoll(empty bool) (int, error) {
	var count int
	err := r.mutate(func(snap *snapshot) error {
		if snap.OwnerWait == nil || !snap.OwnerWait.Active {
			return nil
		}
		if empty {
			snap.OwnerWait.EmptyPolls++
		} else {
			snap.OwnerWait.EmptyPolls = 0
		}
		count = snap.OwnerWait.EmptyPolls
		return nil
	})
	return count, err
}
