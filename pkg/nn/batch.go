package nn

import (
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/DmitryFilippov/Lumina/pkg/chess"
)

// Request is one pending leaf evaluation. PolicyIndices carries the policy
// slots of the position's legal moves in generator order; the resulting
// Entry.Priors is aligned with it.
type Request struct {
	Fingerprint   uint64
	VerifyKey     string
	Planes        *chess.InputPlanes
	PolicyIndices []int
	done          chan *Entry
}

// Batcher packs pending evaluations into batches of unique fingerprints and
// runs them through the network. Duplicate fingerprints in one cycle share a
// single computation slot. A request waits at most Timeout before the batch
// is dispatched short.
type Batcher struct {
	network     Network
	cache       *Cache
	maxBatch    int
	timeout     time.Duration
	softmaxTemp float32

	queue  chan *Request
	failed chan struct{}
	once   sync.Once
	err    error
}

func NewBatcher(network Network, cache *Cache, maxBatch int, timeout time.Duration, softmaxTemp float64) *Batcher {
	if maxBatch < 1 {
		maxBatch = 1
	}
	if softmaxTemp <= 0 {
		softmaxTemp = 1
	}
	return &Batcher{
		network:     network,
		cache:       cache,
		maxBatch:    maxBatch,
		timeout:     timeout,
		softmaxTemp: float32(softmaxTemp),
		queue:       make(chan *Request, 4*maxBatch),
		failed:      make(chan struct{}),
	}
}

// Evaluate resolves pos through the cache or the batch pipeline, blocking
// until the entry is ready. A nil abort channel disables hard aborts.
func (b *Batcher) Evaluate(req *Request, abort <-chan struct{}) (*Entry, error) {
	if entry, ok := b.cache.Lookup(req.Fingerprint, req.VerifyKey); ok {
		return entry, nil
	}
	req.done = make(chan *Entry, 1)
	select {
	case b.queue <- req:
	case <-b.failed:
		return nil, b.err
	case <-abort:
		return nil, errors.New("nn: evaluation aborted")
	}
	select {
	case entry := <-req.done:
		return entry, nil
	case <-b.failed:
		return nil, b.err
	case <-abort:
		return nil, errors.New("nn: evaluation aborted")
	}
}

// Close stops the collector once the queue drains. Callers must guarantee no
// Evaluate is in flight.
func (b *Batcher) Close() {
	close(b.queue)
}

// Run is the collector loop. It returns the first backend error, after
// marking the batcher failed so every current and future waiter is released.
func (b *Batcher) Run() error {
	for {
		var first, ok = <-b.queue
		if !ok {
			return nil
		}
		var batch = []*Request{first}
		var deadline = time.NewTimer(b.timeout)
	collect:
		for len(batch) < b.maxBatch {
			select {
			case req, more := <-b.queue:
				if !more {
					break collect
				}
				batch = append(batch, req)
			case <-deadline.C:
				break collect
			}
		}
		deadline.Stop()
		if err := b.compute(batch); err != nil {
			b.fail(err)
			return err
		}
	}
}

func (b *Batcher) fail(err error) {
	b.once.Do(func() {
		b.err = err
		close(b.failed)
	})
}

func (b *Batcher) compute(batch []*Request) error {
	var computation = b.network.NewComputation()
	var ready = make(map[uint64]*Entry, len(batch))
	var slots = make(map[uint64]int, len(batch))
	var unique = make([]*Request, 0, len(batch))
	for _, req := range batch {
		if _, ok := ready[req.Fingerprint]; ok {
			continue
		}
		if _, ok := slots[req.Fingerprint]; ok {
			continue
		}
		if entry, ok := b.cache.Lookup(req.Fingerprint, req.VerifyKey); ok {
			// Another cycle resolved it while this request sat queued.
			ready[req.Fingerprint] = entry
			continue
		}
		slots[req.Fingerprint] = computation.BatchSize()
		unique = append(unique, req)
		computation.AddInput(req.Planes)
	}
	if computation.BatchSize() > 0 {
		if err := computation.Compute(); err != nil {
			return errors.Wrap(err, "nn: batch compute")
		}
		var caps = b.network.Capabilities()
		for _, req := range unique {
			var entry = buildEntry(computation, caps, slots[req.Fingerprint], req, b.softmaxTemp)
			b.cache.Insert(req.Fingerprint, entry)
			ready[req.Fingerprint] = entry
		}
	}
	for _, req := range batch {
		req.done <- ready[req.Fingerprint]
	}
	return nil
}

func buildEntry(c Computation, caps Capabilities, slot int, req *Request, softmaxTemp float32) *Entry {
	var entry = &Entry{VerifyKey: req.VerifyKey}
	if caps.Value == ValueWDL {
		entry.W, entry.D, entry.L = c.WDL(slot)
		entry.Value = entry.W - entry.L
	} else {
		entry.Value = c.Value(slot)
		entry.W = (1 + entry.Value) / 2
		entry.L = 1 - entry.W
	}
	if caps.MovesLeft != MovesLeftNone {
		entry.MovesLeft = c.MovesLeft(slot)
	}
	entry.Priors = maskedSoftmax(c, slot, req.PolicyIndices, softmaxTemp)
	return entry
}

// maskedSoftmax keeps only the legal-move logits and normalises them, with
// the policy softmax temperature applied.
func maskedSoftmax(c Computation, slot int, indices []int, temp float32) []float32 {
	var priors = make([]float32, len(indices))
	if len(indices) == 0 {
		return priors
	}
	var maxLogit = float32(math.Inf(-1))
	for i, idx := range indices {
		priors[i] = c.Policy(slot, idx)
		if priors[i] > maxLogit {
			maxLogit = priors[i]
		}
	}
	var sum float32
	for i := range priors {
		priors[i] = float32(math.Exp(float64((priors[i] - maxLogit) / temp)))
		sum += priors[i]
	}
	if sum > 0 {
		for i := range priors {
			priors[i] /= sum
		}
	}
	return priors
}
