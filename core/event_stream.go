package core

import (
	"context"
	"fmt"
	"sync"

	"stakeledger/core/events"
	"stakeledger/journal"
)

// eventStreamBuffer bounds how far a subscriber may fall behind before it is
// dropped. Dropped subscribers resume from their last cursor.
const eventStreamBuffer = 256

type eventStream struct {
	mu     sync.Mutex
	subs   map[uint64]chan journal.Entry
	nextID uint64
	// seq numbers entries when no journal assigns sequences.
	seq int64
}

// SubscribeEvents registers a subscriber for committed ledger events. The
// returned backlog holds journaled entries with a sequence above cursor; a
// negative cursor skips the replay. Live entries follow on the channel with
// no gap or overlap. The channel is closed by cancel, when ctx ends, or when
// the subscriber falls too far behind.
func (n *Node) SubscribeEvents(ctx context.Context, cursor int64) (<-chan journal.Entry, func(), []journal.Entry, error) {
	if n == nil {
		return nil, nil, nil, fmt.Errorf("node not initialised")
	}
	updates := make(chan journal.Entry, eventStreamBuffer)

	// Holding n.mu keeps commits out while the backlog is read and the
	// subscriber registered.
	n.mu.Lock()
	var backlog []journal.Entry
	if n.journal != nil && cursor >= 0 {
		after := cursor
		for {
			page, err := n.journal.Since(ctx, after, 0)
			if err != nil {
				n.mu.Unlock()
				return nil, nil, nil, fmt.Errorf("replay journal: %w", err)
			}
			if len(page) == 0 {
				break
			}
			backlog = append(backlog, page...)
			after = page[len(page)-1].Sequence
		}
	}
	n.stream.mu.Lock()
	if n.stream.subs == nil {
		n.stream.subs = make(map[uint64]chan journal.Entry)
	}
	id := n.stream.nextID
	n.stream.nextID++
	n.stream.subs[id] = updates
	n.stream.mu.Unlock()
	n.mu.Unlock()

	var once sync.Once
	stopped := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			close(stopped)
			n.stream.mu.Lock()
			if sub, ok := n.stream.subs[id]; ok {
				delete(n.stream.subs, id)
				close(sub)
			}
			n.stream.mu.Unlock()
		})
	}
	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-stopped:
			}
		}()
	}
	return updates, cancel, backlog, nil
}

// streamEntries assigns local sequences when the node runs without a journal.
func (n *Node) streamEntries(evs []events.Event) []journal.Entry {
	recorded := n.clock.Now().UTC()
	out := make([]journal.Entry, 0, len(evs))
	n.stream.mu.Lock()
	defer n.stream.mu.Unlock()
	for _, ev := range evs {
		entry, ok := journal.EntryFrom(ev, recorded)
		if !ok {
			continue
		}
		n.stream.seq++
		entry.Sequence = n.stream.seq
		out = append(out, entry)
	}
	return out
}

func (n *Node) publishEntries(entries []journal.Entry) {
	if len(entries) == 0 {
		return
	}
	n.stream.mu.Lock()
	defer n.stream.mu.Unlock()
	for id, ch := range n.stream.subs {
		for _, entry := range entries {
			select {
			case ch <- entry:
				continue
			default:
			}
			delete(n.stream.subs, id)
			close(ch)
			break
		}
	}
}
