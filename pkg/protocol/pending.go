package protocol

import (
	"sync"

	"github.com/dwarf-protocol/dwarf-go/pkg/wire"
)

// result carries the outcome of a request to its waiter.
type result struct {
	payload []byte
	err     error
}

// pendingRequest is one outstanding request awaiting a response.
type pendingRequest struct {
	seq   uint64
	epoch uint64
	ch    chan result
}

// pendingTable correlates responses to outstanding requests.
//
// The firmware does not echo a client sequence number, so correlation
// relies on the per-connection guarantee that responses for the same
// (module, command) pair arrive in request order. Each key holds a FIFO
// queue; a response resolves the oldest entry. The local sequence number
// identifies an entry for timeout removal only.
//
// Each entry carries the connection epoch it was sent on. A request can
// race a disconnect and enqueue after failAll ran; the next connection's
// read loop pops with its own epoch and fails such stale entries instead
// of letting them absorb a fresh response.
type pendingTable struct {
	mu     sync.Mutex
	queues map[wire.CommandKey][]*pendingRequest
	seq    uint64
}

func newPendingTable() *pendingTable {
	return &pendingTable{queues: make(map[wire.CommandKey][]*pendingRequest)}
}

// add registers a new outstanding request at the tail of the key's queue.
func (t *pendingTable) add(key wire.CommandKey, epoch uint64) *pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	p := &pendingRequest{seq: t.seq, epoch: epoch, ch: make(chan result, 1)}
	t.queues[key] = append(t.queues[key], p)
	return p
}

// pop removes and returns the oldest outstanding request for the key
// sent on the given connection epoch, or nil if none is waiting.
// Entries from an earlier epoch fail with ErrConnectionLost on the way;
// their connection is gone and their response will never arrive.
func (t *pendingTable) pop(key wire.CommandKey, epoch uint64) *pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()

	queue := t.queues[key]
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if len(queue) == 0 {
			delete(t.queues, key)
		} else {
			t.queues[key] = queue
		}
		if p.epoch != epoch {
			p.ch <- result{err: ErrConnectionLost}
			continue
		}
		return p
	}
	return nil
}

// remove deletes a specific entry, if still queued. Called when the
// waiter gives up (timeout or context cancellation) so a late response
// cannot resolve an abandoned slot out of order.
func (t *pendingTable) remove(key wire.CommandKey, seq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	queue := t.queues[key]
	for i, p := range queue {
		if p.seq == seq {
			t.queues[key] = append(queue[:i], queue[i+1:]...)
			if len(t.queues[key]) == 0 {
				delete(t.queues, key)
			}
			return
		}
	}
}

// failAll resolves every outstanding request with err and clears the table.
func (t *pendingTable) failAll(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, queue := range t.queues {
		for _, p := range queue {
			p.ch <- result{err: err}
		}
	}
	t.queues = make(map[wire.CommandKey][]*pendingRequest)
}

// count returns the number of outstanding requests across all keys.
func (t *pendingTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, queue := range t.queues {
		n += len(queue)
	}
	return n
}
