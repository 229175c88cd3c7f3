package publish

import (
	"sync"

	"mpu6050-ng/internal/axis"
	"mpu6050-ng/internal/core"
)

// Broadcaster fans samples out to subscribers. It keeps the latest sample
// per channel so new subscribers get an immediate value. Slow subscribers
// lose samples rather than block the sampling worker.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[int]chan core.Sample
	nextID int
	last   [axis.NumChannels]core.Sample
	have   [axis.NumChannels]bool
	drops  uint64
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan core.Sample)}
}

func (b *Broadcaster) Subscribe(buffer int) (int, <-chan core.Sample) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan core.Sample, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	for i := range b.last {
		if b.have[i] {
			select {
			case ch <- b.last[i]:
			default:
			}
		}
	}
	return id, ch
}

func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *Broadcaster) Publish(s core.Sample) {
	if !s.Channel.Valid() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last[s.Channel] = s
	b.have[s.Channel] = true
	for _, ch := range b.subs {
		select {
		case ch <- s:
		default:
			b.drops++
		}
	}
}

// Last returns the most recent sample of ch.
func (b *Broadcaster) Last(ch axis.Channel) (core.Sample, bool) {
	if !ch.Valid() {
		return core.Sample{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last[ch], b.have[ch]
}

func (b *Broadcaster) Drops() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.drops
}
