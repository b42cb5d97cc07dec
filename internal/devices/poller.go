package devices

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const DefaultPollInterval = 500 * time.Millisecond

// Poller runs read cycles on a dedicated goroutine and fans readings out
// to subscribers. Only one poller may drive a Reader at a time.
type Poller struct {
	reader   *Reader
	interval time.Duration

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu   sync.Mutex
	subs []chan Reading
}

func NewPoller(reader *Reader, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{reader: reader, interval: interval}
}

// Subscribe returns a channel of readings and a func that removes and
// closes it. Readings are dropped for subscribers whose buffer is full.
func (p *Poller) Subscribe(buffer int) (<-chan Reading, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Reading, buffer)

	p.mu.Lock()
	p.subs = append(p.subs, ch)
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			for i, sub := range p.subs {
				if sub == ch {
					p.subs = append(p.subs[:i], p.subs[i+1:]...)
					break
				}
			}
			close(ch)
		})
	}
}

func (p *Poller) Start(parent context.Context) error {
	if p.running.Swap(true) {
		return nil
	}
	if !p.reader.polling.CompareAndSwap(false, true) {
		p.running.Store(false)
		return ErrPollerRunning
	}

	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.reader.polling.Store(false)
		p.loop(ctx)
	}()

	return nil
}

func (p *Poller) Stop() {
	if !p.running.Load() {
		return
	}

	if p.cancel != nil {
		p.cancel()
	}

	p.wg.Wait()
	p.running.Store(false)
}

func (p *Poller) IsRunning() bool {
	return p.running.Load()
}

func (p *Poller) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		reading := p.reader.ReadWeight(ctx)
		if ctx.Err() != nil {
			return
		}
		p.publish(reading)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) publish(reading Reading) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ch := range p.subs {
		select {
		case ch <- reading:
		default:
		}
	}
}
