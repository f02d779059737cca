package review

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/proofloop/galley/internal/models"
)

const (
	// DefaultPollInterval is how often the completion poller re-fetches a
	// paragraph that is waiting on generation.
	DefaultPollInterval = 10 * time.Second
	// DefaultActivityInterval is how often the global activity indicator
	// asks the server whether any job is running.
	DefaultActivityInterval = time.Second
)

// Poller watches a single paragraph until its correction arrives. Each tick
// fetches the paragraph once; the first fetch whose status has moved past
// notGenerated goes to onUpdate and stops the poller, and the first failed
// fetch goes to onError and stops the poller. There is no backoff and no
// retry cap: after an error the reviewer re-triggers by hand. A stopped
// poller cannot be restarted.
type Poller struct {
	client    *Client
	chapterID int64
	index     int
	interval  time.Duration
	onUpdate  func(*models.Paragraph)
	onError   func(error)
	logger    *zap.Logger

	mu       sync.Mutex
	started  bool
	done     chan struct{}
	stopOnce sync.Once
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithPollInterval overrides the tick interval.
func WithPollInterval(d time.Duration) PollerOption {
	return func(p *Poller) { p.interval = d }
}

// WithPollerLogger sets a logger for tick debug output.
func WithPollerLogger(l *zap.Logger) PollerOption {
	return func(p *Poller) { p.logger = l }
}

// NewPoller creates a poller for one paragraph. Either callback fires at
// most once, and never after Stop has returned control of the loop.
func NewPoller(client *Client, chapterID int64, index int, onUpdate func(*models.Paragraph), onError func(error), opts ...PollerOption) *Poller {
	p := &Poller{
		client:    client,
		chapterID: chapterID,
		index:     index,
		interval:  DefaultPollInterval,
		onUpdate:  onUpdate,
		onError:   onError,
		logger:    zap.NewNop(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the poll loop. It runs until the correction arrives, a
// fetch fails, ctx is cancelled, or Stop is called.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.mu.Unlock()
	go p.run(ctx)
	return nil
}

func (p *Poller) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Stop()
			return
		case <-p.done:
			return
		case <-ticker.C:
			if p.tick(ctx) {
				p.Stop()
				return
			}
		}
	}
}

// tick performs one fetch and reports whether the poller should stop.
// Fetches run inline in the loop, so at most one request is in flight and
// ticker ticks that would overlap a slow fetch are dropped.
func (p *Poller) tick(ctx context.Context) bool {
	para, err := p.client.GetParagraph(ctx, p.chapterID, p.index)

	// A Stop racing the fetch wins: its result is dropped rather than
	// delivered to a view that is being torn down.
	select {
	case <-p.done:
		return true
	default:
	}

	if err != nil {
		p.logger.Debug("poll failed",
			zap.Int64("chapter_id", p.chapterID),
			zap.Int("paragraph", p.index),
			zap.Error(err))
		if p.onError != nil {
			p.onError(err)
		}
		return true
	}
	if para.CorrectionStatus == models.StatusNotGenerated {
		return false
	}
	p.logger.Debug("correction arrived",
		zap.Int64("chapter_id", p.chapterID),
		zap.Int("paragraph", p.index),
		zap.String("status", para.CorrectionStatus.String()))
	if p.onUpdate != nil {
		p.onUpdate(para)
	}
	return true
}

// Running reports whether the poll loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// Stop halts the poller. Safe to call repeatedly and after self-termination.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.started = false
	p.mu.Unlock()
	p.stopOnce.Do(func() { close(p.done) })
}

// ActivityPoller keeps the global "is the AI busy" indicator fresh. Unlike
// Poller it never terminates itself: fetch errors are recorded and the loop
// keeps ticking until Stop. onChange, when set, fires on every flip of the
// indicator.
type ActivityPoller struct {
	client   *Client
	interval time.Duration
	onChange func(bool)

	mu       sync.Mutex
	thinking bool
	lastErr  error
	started  bool
	done     chan struct{}
	stopOnce sync.Once
}

// ActivityPollerOption configures an ActivityPoller.
type ActivityPollerOption func(*ActivityPoller)

// WithActivityInterval overrides the tick interval.
func WithActivityInterval(d time.Duration) ActivityPollerOption {
	return func(a *ActivityPoller) { a.interval = d }
}

// NewActivityPoller creates the indicator poller. onChange may be nil.
func NewActivityPoller(client *Client, onChange func(bool), opts ...ActivityPollerOption) *ActivityPoller {
	a := &ActivityPoller{
		client:   client,
		interval: DefaultActivityInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start launches the indicator loop. It runs until ctx is cancelled or Stop
// is called.
func (a *ActivityPoller) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = true
	a.mu.Unlock()
	go a.run(ctx)
	return nil
}

func (a *ActivityPoller) run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.Stop()
			return
		case <-a.done:
			return
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *ActivityPoller) tick(ctx context.Context) {
	thinking, err := a.client.Thinking(ctx)

	select {
	case <-a.done:
		return
	default:
	}

	a.mu.Lock()
	if err != nil {
		a.lastErr = err
		a.mu.Unlock()
		return
	}
	a.lastErr = nil
	changed := thinking != a.thinking
	a.thinking = thinking
	onChange := a.onChange
	a.mu.Unlock()

	if changed && onChange != nil {
		onChange(thinking)
	}
}

// Thinking returns the most recently fetched indicator state.
func (a *ActivityPoller) Thinking() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.thinking
}

// Err returns the last fetch error, nil after a successful tick.
func (a *ActivityPoller) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// Stop halts the indicator loop. Safe to call repeatedly.
func (a *ActivityPoller) Stop() {
	a.mu.Lock()
	a.started = false
	a.mu.Unlock()
	a.stopOnce.Do(func() { close(a.done) })
}
