package perflog

import (
	"context"
	"sync"

	"github.com/gateway-fm/accessledger/pkg/types"
)

type annotationKey struct{}

// Annotation carries the submission metrics a handler reports for the current request.
// A nil *Annotation accepts every call and records nothing.
type Annotation struct {
	mu        sync.Mutex
	refTime   *uint64
	proofSize *uint64
	tip       *uint64
	txCount   *int64
	success   bool
}

// WithAnnotation returns a context carrying a fresh annotation.
func WithAnnotation(ctx context.Context) (context.Context, *Annotation) {
	a := &Annotation{}
	return context.WithValue(ctx, annotationKey{}, a), a
}

// FromContext returns the request annotation, or nil when the sidecar is off.
func FromContext(ctx context.Context) *Annotation {
	a, _ := ctx.Value(annotationKey{}).(*Annotation)
	return a
}

// RecordSubmission stores the weight and tip of a finalized transaction.
func (a *Annotation) RecordSubmission(refTime, proofSize, tip uint64, success bool) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refTime = &refTime
	a.proofSize = &proofSize
	a.tip = &tip
	a.success = success
}

// RecordTip stores a tip for a submission that never reached a weight.
func (a *Annotation) RecordTip(tip uint64) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tip = &tip
}

// RecordTransactionCount stores the process transaction counter value.
func (a *Annotation) RecordTransactionCount(n int64) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.txCount = &n
}

func (a *Annotation) apply(rec *types.PerformanceRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec.RefTime = a.refTime
	rec.ProofSize = a.proofSize
	rec.Tip = a.tip
	rec.TransactionCount = a.txCount
	rec.TransactionSuccess = "No"
	if a.success {
		rec.TransactionSuccess = "Yes"
	}
}
