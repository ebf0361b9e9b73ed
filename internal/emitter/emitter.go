// Package emitter implements §4.5 step 7 and §4.7: fingerprinting a
// driver-output tuple, consulting/updating its dedup counter, and firing
// add/del transitions to backend plug-ins exactly once per 0↔1 crossing.
//
// Grounded on squeal.c's three dedup prepared statements (reused here via
// internal/sqlstore) and backend.h's add/del callback shape.
package emitter

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/hashstructure"
	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"

	"github.com/arpa2/pulley/internal/lexhash"
	"github.com/arpa2/pulley/internal/sqlstore"
)

// BackendSink is the pair of backend calls (add, del) the emitter needs to
// fire transitions; the pulley controller implements it on top of
// internal/backend's Manager. It is kept narrow so this package does not
// import internal/backend directly (avoiding an import cycle with the
// controller that wires both together).
type BackendSink interface {
	Add(ctx context.Context, driverLineHash uint32, values [][]byte) error
	Del(ctx context.Context, driverLineHash uint32, values [][]byte) error
}

// Emitter deduplicates driver-output tuples and forwards each transition to
// the backend sink passed to Emit.
type Emitter struct {
	store *sqlstore.Store
	log   logrus.FieldLogger
}

// New returns an Emitter backed by store, logging through log.
func New(store *sqlstore.Store, log logrus.FieldLogger) *Emitter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Emitter{store: store, log: log}
}

// Fingerprint computes the tuple fingerprint driving dedup: the FNV-1a hash
// of the driver's line-hash followed by each length-prefixed output value,
// in declared order (§4.5 step 7).
func Fingerprint(driverLineHash lexhash.Hash, values [][]byte) uint64 {
	h := lexhash.Hasher{}
	h.Start()
	h.Token(int(driverLineHash))
	for _, v := range values {
		h.TokenBlob(len(v), v)
	}
	h.EndLine()
	return uint64(h.Finish())
}

// Emit applies an add or del for one produced tuple: it updates the
// dedup counter regardless of whether the backend callback succeeds
// (§7: "dedup bookkeeping is best-effort and must not be rolled back by a
// backend failure"), and only invokes the backend callback on a 0→1 (add)
// or 1→0 (del) transition.
func (e *Emitter) Emit(ctx context.Context, sink BackendSink, driverLineHash lexhash.Hash, values [][]byte, isAdd bool) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emitter.Emit")
	defer span.Finish()

	fp := Fingerprint(driverLineHash, values)

	before, err := e.store.DedupGet(ctx, fp)
	if err != nil {
		return fmt.Errorf("emitter: dedup lookup: %w", err)
	}

	var dedupErr, callbackErr error
	if isAdd {
		dedupErr = e.store.DedupInc(ctx, fp)
	} else {
		dedupErr = e.store.DedupDec(ctx, fp)
	}

	fire := (isAdd && before == 0) || (!isAdd && before == 1)
	if fire && sink != nil {
		bspan, bctx := opentracing.StartSpanFromContext(ctx, "emitter.backendCallback")
		if isAdd {
			callbackErr = sink.Add(bctx, uint32(driverLineHash), values)
		} else {
			callbackErr = sink.Del(bctx, uint32(driverLineHash), values)
		}
		bspan.Finish()
	}

	e.logDebugFingerprint(fp, values)

	var result *multierror.Error
	if dedupErr != nil {
		result = multierror.Append(result, fmt.Errorf("emitter: dedup update: %w", dedupErr))
	}
	if callbackErr != nil {
		result = multierror.Append(result, fmt.Errorf("emitter: backend callback: %w", callbackErr))
	}
	return result.ErrorOrNil()
}

// logDebugFingerprint logs a structural fingerprint of the tuple distinct
// from the dedup fingerprint above, for diagnostics only — it is never
// consulted for dedup correctness.
func (e *Emitter) logDebugFingerprint(dedupFP uint64, values [][]byte) {
	structFP, err := hashstructure.Hash(values, nil)
	if err != nil {
		return
	}
	e.log.WithFields(logrus.Fields{
		"dedup_fingerprint":      dedupFP,
		"structural_fingerprint": structFP,
	}).Debug("emitted tuple")
}
