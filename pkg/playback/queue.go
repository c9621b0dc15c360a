// Package playback serializes synthesized audio chunks through a single
// player. Chunks play strictly in arrival order, never overlapping; a flush
// stops the active chunk and drops everything queued behind it.
package playback

import (
	"context"
	"log/slog"
	"sync"

	"github.com/voceo/voceo/pkg/logging"
)

// Chunk is one playable unit of audio.
type Chunk struct {
	Data       []byte
	SampleRate int
}

// Player renders one chunk. Play blocks until the chunk finishes or ctx is
// cancelled.
type Player interface {
	Play(ctx context.Context, chunk Chunk) error
}

// Queue owns the playback order for one session. Exactly one chunk is ever
// being played.
type Queue struct {
	player Player
	logger *slog.Logger

	mu         sync.Mutex
	items      []Chunk
	playing    bool
	playCancel context.CancelFunc
	stopped    bool

	wake    chan struct{}
	done    chan struct{}
	onDrain func()
}

// Option configures optional queue collaborators.
type Option func(*Queue)

// WithDrainCallback is invoked on the queue goroutine each time playback
// finishes and nothing is queued.
func WithDrainCallback(fn func()) Option {
	return func(q *Queue) { q.onDrain = fn }
}

func NewQueue(player Player, opts ...Option) *Queue {
	q := &Queue{
		player: player,
		logger: logging.NewComponentLogger(slog.Default(), "playback"),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the playback goroutine.
func (q *Queue) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	go q.loop(ctx)
	return nil
}

// Stop flushes the queue and ends the playback goroutine.
func (q *Queue) Stop() error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	q.items = nil
	cancel := q.playCancel
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	close(q.done)
	return nil
}

// Enqueue appends a chunk. Order of enqueue is order of playback.
func (q *Queue) Enqueue(chunk Chunk) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, chunk)
	q.mu.Unlock()
	q.signal()
}

// Clear stops the active chunk and drops all queued ones. Used on barge-in.
func (q *Queue) Clear() {
	q.mu.Lock()
	dropped := len(q.items)
	q.items = nil
	cancel := q.playCancel
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if dropped > 0 {
		q.logger.Info("playback_flushed", slog.Int("dropped_chunks", dropped))
	}
}

// Len reports the number of queued chunks, excluding the one playing.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Playing reports whether a chunk is being rendered right now.
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) loop(ctx context.Context) {
	for {
		chunk, ok := q.next()
		if !ok {
			select {
			case <-q.wake:
				continue
			case <-q.done:
				return
			case <-ctx.Done():
				return
			}
		}

		playCtx, cancel := context.WithCancel(ctx)
		q.mu.Lock()
		q.playing = true
		q.playCancel = cancel
		q.mu.Unlock()

		err := q.player.Play(playCtx, chunk)
		cancel()

		q.mu.Lock()
		q.playing = false
		q.playCancel = nil
		drained := len(q.items) == 0
		q.mu.Unlock()

		if err != nil && playCtx.Err() == nil {
			q.logger.Warn("chunk_play_failed", slog.String("error", err.Error()))
		}
		if drained && q.onDrain != nil {
			q.onDrain()
		}
	}
}

func (q *Queue) next() (Chunk, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Chunk{}, false
	}
	chunk := q.items[0]
	q.items = q.items[1:]
	return chunk, true
}
