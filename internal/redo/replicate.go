package redo

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

// Adaptive spin-then-park bounds from spec.md §4.9's replication mode.
const (
	minSpins = 20
	maxSpins = 2000
)

// Source is a replication manager's stream of redo records, in the
// shape the decoder expects: sequential records in log order, each
// still carrying the transaction id needed to route it to the right
// worker.
type Source interface {
	// Next blocks until a record is available or the stream ends, in
	// which case ok is false.
	Next() (r Record, ok bool)
}

// Decoder applies a replicated redo stream to v, preserving each
// transaction's total order while letting independent transactions
// apply concurrently. Records are sharded across a fixed pool of
// worker latches by a hash of the transaction id, so every record for
// a given transaction is funneled through the same worker and
// therefore processed in stream order.
type Decoder struct {
	workers []*worker
	v       Visitor
}

type worker struct {
	mu      sync.Mutex
	queue   []Record
	signal  chan struct{}
	spins   atomic.Int64 // smoothed recent spin count, for the adaptive wait
	closing atomic.Bool
}

// NewDecoder starts poolSize worker goroutines, each serially applying
// the records routed to it.
func NewDecoder(v Visitor, poolSize int) *Decoder {
	if poolSize < 1 {
		poolSize = 1
	}
	d := &Decoder{v: v, workers: make([]*worker, poolSize)}
	for i := range d.workers {
		w := &worker{signal: make(chan struct{}, 1)}
		w.spins.Store(minSpins)
		d.workers[i] = w
		go d.run(w)
	}
	return d
}

func (d *Decoder) shardFor(txnID uint64) *worker {
	h := fnv.New64a()
	var b [8]byte
	b[0] = byte(txnID)
	b[1] = byte(txnID >> 8)
	b[2] = byte(txnID >> 16)
	b[3] = byte(txnID >> 24)
	b[4] = byte(txnID >> 32)
	b[5] = byte(txnID >> 40)
	b[6] = byte(txnID >> 48)
	b[7] = byte(txnID >> 56)
	h.Write(b[:])
	return d.workers[h.Sum64()%uint64(len(d.workers))]
}

// Drain reads from src until it ends, routing each record to the
// worker sharded by its transaction id.
func (d *Decoder) Drain(src Source) error {
	for {
		r, ok := src.Next()
		if !ok {
			break
		}
		w := d.shardFor(r.TxnID)
		w.mu.Lock()
		w.queue = append(w.queue, r)
		w.mu.Unlock()
		select {
		case w.signal <- struct{}{}:
		default:
		}
	}
	for _, w := range d.workers {
		w.closing.Store(true)
		select {
		case w.signal <- struct{}{}:
		default:
		}
	}
	return nil
}

// run is one worker's apply loop: spin briefly for low-latency pickup
// under load, then park on the signal channel once spinning hasn't
// paid off, smoothing the spin budget between minSpins and maxSpins
// with an exponential moving average so a bursty workload doesn't
// thrash between the two regimes every record.
func (d *Decoder) run(w *worker) {
	for {
		rec, ok := w.pop()
		if ok {
			if err := apply(d.v, rec); err != nil {
				// Replication replay cannot easily surface a per-record
				// error to a caller that has already moved on; drop the
				// worker rather than silently desync.
				return
			}
			continue
		}
		if w.closing.Load() {
			return
		}
		if !w.spinWait() {
			<-w.signal
		}
	}
}

func (w *worker) pop() (Record, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return Record{}, false
	}
	r := w.queue[0]
	w.queue = w.queue[1:]
	return r, true
}

// spinWait busy-waits for up to the worker's current spin budget,
// returning true if a record showed up in that window. It adjusts the
// budget toward minSpins on a hit and toward maxSpins on a miss, an
// exponential moving average over consecutive waits.
func (w *worker) spinWait() bool {
	budget := w.spins.Load()
	for i := int64(0); i < budget; i++ {
		w.mu.Lock()
		empty := len(w.queue) == 0
		w.mu.Unlock()
		if !empty {
			next := budget - (budget-minSpins)/4
			if next < minSpins {
				next = minSpins
			}
			w.spins.Store(next)
			return true
		}
		time.Sleep(time.Microsecond)
	}
	next := budget + (maxSpins-budget)/4
	if next > maxSpins {
		next = maxSpins
	}
	w.spins.Store(next)
	return false
}
