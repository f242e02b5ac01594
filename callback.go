package sc

import (
	"fmt"
	"os"
	rdebug "runtime/debug"
	"sync/atomic"

	"deedles.dev/sc/internal/debug"
	"deedles.dev/sc/internal/handles"
	"deedles.dev/sc/wire"
)

// callbacks holds every callback that has been handed to a backend and
// not yet invoked. Backends only ever see the token.
var callbacks handles.Registry[*callback]

// abort terminates the process after a callback panics. A panic must
// not unwind into the compositor's goroutine.
var abort = func(v any) {
	os.Exit(2)
}

// callback states.
const (
	stateUnset int32 = iota
	stateRegistered
	stateFired
)

// track follows the two callback phases of one transaction.
type track struct {
	commit   atomic.Int32
	complete atomic.Int32
}

func (t *track) phase(p wire.Phase) *atomic.Int32 {
	if p == wire.PhaseCommit {
		return &t.commit
	}
	return &t.complete
}

type callback struct {
	session *Session
	txn     wire.Txn
	phase   wire.Phase
	track   *track
	f       func(*Stats)
}

// OnComplete registers f to be called once the frame containing the
// transaction's updates has been presented. Buffers replaced or removed
// by the transaction may be reused once their previous-release fence,
// if any, has signaled.
//
// f is called from a goroutine owned by the compositor. If f panics,
// the process is terminated.
func (tx *Transaction) OnComplete(f func(*Stats)) error {
	return tx.register(FeatureCore, wire.PhaseComplete, f)
}

// OnCommit registers f to be called when the transaction has been
// applied and its updates are ready to be presented. It is always
// called before the on-complete callback. Fences are not available to
// f.
//
// f is called from a goroutine owned by the compositor. If f panics,
// the process is terminated.
func (tx *Transaction) OnCommit(f func(*Stats)) error {
	return tx.register(FeatureOnCommit, wire.PhaseCommit, f)
}

func (tx *Transaction) register(feature Feature, phase wire.Phase, f func(*Stats)) error {
	if tx == nil {
		return ErrClosed
	}
	if f == nil {
		return argError("On"+phaseName(phase), "callback", "nil")
	}
	err := tx.session.caps.check(feature)
	if err != nil {
		return err
	}

	tx.m.Lock()
	defer tx.m.Unlock()

	err = tx.usable()
	if err != nil {
		return err
	}
	slot := &tx.tokens[phase-wire.PhaseCommit]
	if *slot != 0 {
		return fmt.Errorf("%v callback: %w", phase, ErrCallbackSet)
	}

	*slot = callbacks.Register(&callback{
		session: tx.session,
		txn:     tx.txn,
		phase:   phase,
		track:   tx.track,
		f:       f,
	})
	tx.track.phase(phase).Store(stateRegistered)
	tx.session.backend.SetCallback(tx.txn, phase, trampoline, *slot)
	return nil
}

func phaseName(p wire.Phase) string {
	if p == wire.PhaseCommit {
		return "Commit"
	}
	return "Complete"
}

// trampoline is the function handed to backends for every callback. A
// zero stats handle means that the backend dropped the transaction and
// will never invoke the callback.
func trampoline(ctx uintptr, raw wire.Stats) {
	cb, ok := callbacks.Take(ctx)
	if !ok {
		debug.Logger().Warn().Uint64("token", uint64(ctx)).Msg("callback invoked with unknown or spent token")
		return
	}
	if raw == 0 {
		cb.session.log.Debug().
			Uint32("txn", uint32(cb.txn)).
			Stringer("phase", cb.phase).
			Msg("callback dropped")
		return
	}
	cb.invoke(raw)
}

func (cb *callback) invoke(raw wire.Stats) {
	if (cb.phase == wire.PhaseComplete) && (cb.track.commit.Load() == stateRegistered) {
		cb.session.log.Warn().
			Uint32("txn", uint32(cb.txn)).
			Msg("on-complete invoked before on-commit")
	}

	stats := newStats(cb.session, raw, cb.phase)
	defer stats.expire()
	defer func() {
		v := recover()
		if v == nil {
			return
		}
		cb.session.log.Error().
			Uint32("txn", uint32(cb.txn)).
			Stringer("phase", cb.phase).
			Str("panic", fmt.Sprint(v)).
			Bytes("stack", rdebug.Stack()).
			Msg("transaction callback panicked")
		abort(v)
	}()

	cb.track.phase(cb.phase).Store(stateFired)
	cb.f(stats)
}

// PendingCallbacks returns the number of callbacks that have been
// registered and neither invoked nor discarded.
func PendingCallbacks() int {
	return callbacks.Len()
}
