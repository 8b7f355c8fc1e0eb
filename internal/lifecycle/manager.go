// Package lifecycle deletes bot messages after the fact: step messages when a
// dialog moves on, and staff-facing replies once their retention delay passes.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"moviezone-tg-bot/internal/tg"
)

type Policy string

const (
	PolicyStep  Policy = "step"
	PolicyTimed Policy = "timed"
)

type MessageRef struct {
	ChatID    int64
	MessageID int
}

func Ref(m *tg.Message) MessageRef {
	return MessageRef{ChatID: m.Chat.ID, MessageID: m.MessageID}
}

type ScheduledDeletion struct {
	Ref      MessageRef
	DeleteAt time.Time
	Policy   Policy
}

type Deleter interface {
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}

type Options struct {
	// Delay applies to timed registrations that do not carry their own.
	Delay     time.Duration
	Interval  time.Duration
	BatchSize int
	Now       func() time.Time
}

// Manager owns both deletion queues. It never looks at message content.
type Manager struct {
	deleter  Deleter
	queue    TimedQueue
	delay    time.Duration
	interval time.Duration
	batch    int
	now      func() time.Time
	logger   hclog.Logger

	mu    sync.Mutex
	steps map[string][]MessageRef

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewManager(deleter Deleter, queue TimedQueue, opts Options, logger hclog.Logger) *Manager {
	if queue == nil {
		queue = NewMemoryQueue()
	}
	if opts.Delay <= 0 {
		opts.Delay = 48 * time.Hour
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Manager{
		deleter:  deleter,
		queue:    queue,
		delay:    opts.Delay,
		interval: opts.Interval,
		batch:    opts.BatchSize,
		now:      opts.Now,
		logger:   logger.Named("lifecycle"),
		steps:    make(map[string][]MessageRef),
	}
}

func (m *Manager) Delay() time.Duration { return m.delay }

func (m *Manager) RegisterForStepCleanup(sessionID string, ref MessageRef) {
	if sessionID == "" || ref.MessageID == 0 {
		return
	}
	m.mu.Lock()
	m.steps[sessionID] = append(m.steps[sessionID], ref)
	m.mu.Unlock()
}

// RegisterForTimedCleanup queues ref for deletion after delay, or after the
// configured delay when delay is not positive. Queue failures are logged.
func (m *Manager) RegisterForTimedCleanup(ctx context.Context, ref MessageRef, delay time.Duration) {
	if ref.MessageID == 0 {
		return
	}
	if delay <= 0 {
		delay = m.delay
	}
	d := ScheduledDeletion{Ref: ref, DeleteAt: m.now().Add(delay), Policy: PolicyTimed}
	if err := m.queue.Push(ctx, d); err != nil {
		m.logger.Warn("failed to schedule deletion", "chat_id", ref.ChatID, "message_id", ref.MessageID, "error", err)
	}
}

// FlushStep deletes every message registered for the session and forgets them.
func (m *Manager) FlushStep(ctx context.Context, sessionID string) int {
	m.mu.Lock()
	refs := m.steps[sessionID]
	delete(m.steps, sessionID)
	m.mu.Unlock()
	for _, ref := range refs {
		m.delete(ctx, ref, PolicyStep)
	}
	return len(refs)
}

// Pending reports how many step messages are registered for the session.
func (m *Manager) Pending(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.steps[sessionID])
}

// Sweep deletes every timed entry whose deadline has passed.
func (m *Manager) Sweep(ctx context.Context) int {
	total := 0
	for {
		due, err := m.queue.PopDue(ctx, m.now(), m.batch)
		for _, d := range due {
			m.delete(ctx, d.Ref, PolicyTimed)
		}
		total += len(due)
		if err != nil {
			m.logger.Warn("sweep failed", "error", err)
			return total
		}
		if len(due) < m.batch || ctx.Err() != nil {
			break
		}
	}
	if total > 0 {
		m.logger.Debug("sweep finished", "deleted", total)
	}
	return total
}

func (m *Manager) delete(ctx context.Context, ref MessageRef, policy Policy) {
	err := m.deleter.DeleteMessage(ctx, ref.ChatID, ref.MessageID)
	switch {
	case err == nil:
	case tg.IsMessageGone(err):
		m.logger.Debug("message already gone", "chat_id", ref.ChatID, "message_id", ref.MessageID, "policy", policy)
	default:
		m.logger.Warn("failed to delete message", "chat_id", ref.ChatID, "message_id", ref.MessageID, "policy", policy, "error", err)
	}
}

// Start runs Sweep every interval until Stop.
func (m *Manager) Start() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return fmt.Errorf("lifecycle sweeper already running")
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.wg.Add(1)
	go m.sweepRoutine(m.stopCh)
	m.logger.Info("sweeper started", "interval", m.interval, "delay", m.delay)
	return nil
}

func (m *Manager) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return
	}
	close(m.stopCh)
	m.wg.Wait()
	m.running = false
	m.logger.Info("sweeper stopped")
}

func (m *Manager) sweepRoutine(stop <-chan struct{}) {
	defer m.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}
