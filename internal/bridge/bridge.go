// Package bridge republishes generation-completion notifications to
// waiting orchestration code. A single actor goroutine owns the waiter
// table; registrations, publishes, and timeouts arrive as messages, so
// no entry is ever touched by two goroutines at once.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fableforge/fable/internal/generations"
)

// Sentinel errors for the bridge package.
var (
	// ErrDuplicateWaiter is returned when a waiter is already registered
	// for the generation id. One outstanding waiter per id is an
	// invariant; a second registration is a programming error.
	ErrDuplicateWaiter = errors.New("waiter already registered for generation")

	// ErrWaitTimeout is returned when no terminal update arrives within
	// the wait window.
	ErrWaitTimeout = errors.New("timed out waiting for generation")

	// ErrClosed is returned when the bridge has been shut down.
	ErrClosed = errors.New("bridge is closed")
)

// updateBuffer bounds the non-terminal update channel. Progress
// notifications beyond the buffer are dropped, never blocked on.
const updateBuffer = 8

// Waiter is one page worker's pending interest in a generation outcome.
type Waiter struct {
	generationID string
	result       chan waitResult
	updates      chan *generations.Update
}

type waitResult struct {
	update *generations.Update
	err    error
}

// Updates delivers non-terminal progress updates. The channel is closed
// when the waiter resolves. Receiving is optional.
func (w *Waiter) Updates() <-chan *generations.Update {
	return w.updates
}

// Wait blocks until the generation reaches a terminal state, the wait
// window expires, or ctx is done. On terminal failure the update is
// returned alongside a non-nil error carrying the provider's message.
func (w *Waiter) Wait(ctx context.Context) (*generations.Update, error) {
	select {
	case r := <-w.result:
		return r.update, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type entry struct {
	waiter *Waiter
	timer  *time.Timer
}

type registerCmd struct {
	generationID string
	reply        chan registerReply
}

type registerReply struct {
	waiter *Waiter
	err    error
}

type publishCmd struct {
	update *generations.Update
}

type expireCmd struct {
	generationID string
}

type unregisterCmd struct {
	generationID string
}

// Bridge owns the per-generation waiter table.
type Bridge struct {
	cmds        chan any
	waitTimeout time.Duration
	logger      *slog.Logger
	done        chan struct{}
}

// New creates a bridge and starts its actor goroutine. waitTimeout
// bounds every registered wait; zero means the 15 minute default.
func New(waitTimeout time.Duration, logger *slog.Logger) *Bridge {
	if waitTimeout <= 0 {
		waitTimeout = 15 * time.Minute
	}
	b := &Bridge{
		cmds:        make(chan any),
		waitTimeout: waitTimeout,
		logger:      logger,
		done:        make(chan struct{}),
	}
	go b.run()
	return b
}

// Close shuts down the actor. Outstanding waiters are rejected with
// ErrClosed.
func (b *Bridge) Close() {
	close(b.done)
}

// Register creates the single waiter for a generation id. A timeout
// starts immediately; if it fires before a terminal update, the waiter
// is rejected with ErrWaitTimeout and unregistered.
func (b *Bridge) Register(generationID string) (*Waiter, error) {
	if generationID == "" {
		return nil, fmt.Errorf("generation id is required")
	}
	reply := make(chan registerReply, 1)
	select {
	case b.cmds <- registerCmd{generationID: generationID, reply: reply}:
	case <-b.done:
		return nil, ErrClosed
	}
	r := <-reply
	return r.waiter, r.err
}

// Unregister drops a waiter without resolving it. Used when dispatch
// fails after registration.
func (b *Bridge) Unregister(generationID string) {
	select {
	case b.cmds <- unregisterCmd{generationID: generationID}:
	case <-b.done:
	}
}

// Publish fans a generation update out to the registered waiter, if
// any. Terminal updates resolve and remove the waiter; non-terminal
// ones flow through its Updates channel.
func (b *Bridge) Publish(u *generations.Update) {
	select {
	case b.cmds <- publishCmd{update: u}:
	case <-b.done:
	}
}

func (b *Bridge) run() {
	waiters := make(map[string]*entry)

	for {
		select {
		case <-b.done:
			for id, e := range waiters {
				e.timer.Stop()
				e.waiter.result <- waitResult{err: ErrClosed}
				close(e.waiter.updates)
				delete(waiters, id)
			}
			return

		case cmd := <-b.cmds:
			switch c := cmd.(type) {
			case registerCmd:
				if _, exists := waiters[c.generationID]; exists {
					c.reply <- registerReply{err: fmt.Errorf("%w: %s", ErrDuplicateWaiter, c.generationID)}
					continue
				}
				w := &Waiter{
					generationID: c.generationID,
					result:       make(chan waitResult, 1),
					updates:      make(chan *generations.Update, updateBuffer),
				}
				id := c.generationID
				timer := time.AfterFunc(b.waitTimeout, func() {
					select {
					case b.cmds <- expireCmd{generationID: id}:
					case <-b.done:
					}
				})
				waiters[id] = &entry{waiter: w, timer: timer}
				c.reply <- registerReply{waiter: w}

			case publishCmd:
				e, ok := waiters[c.update.GenerationID]
				if !ok {
					continue
				}
				if !c.update.Terminal() {
					select {
					case e.waiter.updates <- c.update:
					default:
					}
					continue
				}
				e.timer.Stop()
				var err error
				if c.update.Status == generations.StatusFailed {
					msg := c.update.Error
					if msg == "" {
						msg = "generation failed"
					}
					err = errors.New(msg)
				}
				e.waiter.result <- waitResult{update: c.update, err: err}
				close(e.waiter.updates)
				delete(waiters, c.update.GenerationID)

			case expireCmd:
				e, ok := waiters[c.generationID]
				if !ok {
					continue
				}
				b.logger.Warn("generation wait timed out",
					"generation_id", c.generationID,
					"timeout", b.waitTimeout)
				e.waiter.result <- waitResult{err: ErrWaitTimeout}
				close(e.waiter.updates)
				delete(waiters, c.generationID)

			case unregisterCmd:
				e, ok := waiters[c.generationID]
				if !ok {
					continue
				}
				e.timer.Stop()
				close(e.waiter.updates)
				delete(waiters, c.generationID)
			}
		}
	}
}
