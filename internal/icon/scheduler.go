package icon

import (
	"context"
	"sync"
	"time"

	"github.com/startgrid/startgrid/internal/domain/entity"
)

const (
	// DefaultPriorityCount is how many leading cards load immediately on a
	// render; the rest wait for a visibility trigger.
	DefaultPriorityCount = 24
	// DefaultPreloadDelay defers the background preload sweep so it never
	// competes with the initial paint.
	DefaultPreloadDelay = 500 * time.Millisecond
)

// CardSink receives the outcome of icon loading for one rendered card.
// Implementations mount the icon (or the fallback glyph) into whatever the
// rendering layer uses for a card.
type CardSink interface {
	SetIcon(iconURL string)
	SetFallback(glyph string)
}

// Card pairs a bookmark with its render target.
type Card struct {
	Bookmark entity.Bookmark
	Sink     CardSink
}

// SchedulerOptions configures a Scheduler. Zero values fall back to defaults.
type SchedulerOptions struct {
	Resolver      *Resolver
	PriorityCount int
	PreloadDelay  time.Duration
}

// Scheduler attaches icon loading to the rendered grid. Each full render
// gets a new generation; async work from prior generations checks the
// generation before touching a sink and aborts silently when stale, so a
// slow icon from a previous tab never lands in the new tab's grid.
type Scheduler struct {
	resolver      *Resolver
	priorityCount int
	preloadDelay  time.Duration

	mu           sync.Mutex
	generation   uint64
	renderCtx    context.Context
	cancelRender context.CancelFunc
	lazy         map[string]Card   // request key -> card awaiting visibility
	loaded       map[string]string // request key -> icon mounted this render
	reusable     map[string]string // snapshot carried over from prior renders
	preloadTimer *time.Timer

	wg sync.WaitGroup
}

// NewScheduler creates a scheduler around the given resolver.
func NewScheduler(opts SchedulerOptions) *Scheduler {
	if opts.PriorityCount <= 0 {
		opts.PriorityCount = DefaultPriorityCount
	}
	if opts.PreloadDelay <= 0 {
		opts.PreloadDelay = DefaultPreloadDelay
	}
	return &Scheduler{
		resolver:      opts.Resolver,
		priorityCount: opts.PriorityCount,
		preloadDelay:  opts.PreloadDelay,
		lazy:          make(map[string]Card),
		loaded:        make(map[string]string),
		reusable:      make(map[string]string),
	}
}

// Render starts a new render generation for the given cards: cancels all
// in-flight work of the previous generation, snapshots its loaded icons for
// reuse, assigns every card its fallback glyph, loads the first
// priorityCount cards immediately and registers the rest for visibility
// triggers. A deferred background preload warms the caches for the leading
// bookmarks. Returns the new generation token.
func (s *Scheduler) Render(ctx context.Context, cards []Card) uint64 {
	s.mu.Lock()

	s.generation++
	gen := s.generation

	if s.cancelRender != nil {
		s.cancelRender()
	}
	if s.preloadTimer != nil {
		s.preloadTimer.Stop()
		s.preloadTimer = nil
	}

	// Snapshot icons the previous render already loaded so returning to the
	// same tab reuses them instead of re-fetching.
	for key, icon := range s.loaded {
		s.reusable[key] = icon
	}
	s.loaded = make(map[string]string)
	s.lazy = make(map[string]Card)

	renderCtx, cancel := context.WithCancel(ctx)
	s.renderCtx = renderCtx
	s.cancelRender = cancel

	var priority []Card
	bookmarks := make([]entity.Bookmark, 0, len(cards))
	for i, card := range cards {
		card.Sink.SetFallback(card.Bookmark.FallbackGlyph())
		bookmarks = append(bookmarks, card.Bookmark)
		if i < s.priorityCount {
			priority = append(priority, card)
		} else {
			s.lazy[card.Bookmark.RequestKey()] = card
		}
	}

	s.preloadTimer = time.AfterFunc(s.preloadDelay, func() {
		if s.Generation() != gen {
			return
		}
		s.resolver.Preload(renderCtx, bookmarks)
	})

	s.mu.Unlock()

	for _, card := range priority {
		s.spawnLoad(renderCtx, gen, card)
	}
	return gen
}

// CardVisible triggers loading for a lazily registered card as it approaches
// the viewport. Unknown or already-triggered keys are no-ops.
func (s *Scheduler) CardVisible(requestKey string) {
	s.mu.Lock()
	card, ok := s.lazy[requestKey]
	if ok {
		delete(s.lazy, requestKey)
	}
	gen := s.generation
	renderCtx := s.renderCtx
	s.mu.Unlock()

	if !ok || renderCtx == nil {
		return
	}
	s.spawnLoad(renderCtx, gen, card)
}

// Generation returns the current render generation token.
func (s *Scheduler) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Wait blocks until all spawned icon loads have finished. Loads belonging to
// superseded generations finish quickly since their context is cancelled.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Close cancels the current generation and stops the deferred preload.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.cancelRender != nil {
		s.cancelRender()
	}
	if s.preloadTimer != nil {
		s.preloadTimer.Stop()
		s.preloadTimer = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) spawnLoad(ctx context.Context, gen uint64, card Card) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loadCard(ctx, gen, card)
	}()
}

func (s *Scheduler) loadCard(ctx context.Context, gen uint64, card Card) {
	key := card.Bookmark.RequestKey()

	// Reuse an icon a previous render already loaded for this bookmark.
	s.mu.Lock()
	if icon, ok := s.reusable[key]; ok {
		delete(s.reusable, key)
		if gen == s.generation {
			s.loaded[key] = icon
			s.mu.Unlock()
			card.Sink.SetIcon(icon)
			return
		}
	}
	s.mu.Unlock()

	resolved, err := s.resolver.Resolve(ctx, card.Bookmark, ResolveOptions{})
	if err != nil || resolved == "" {
		// Cancelled or exhausted: the fallback glyph stays mounted.
		return
	}

	s.mu.Lock()
	if gen != s.generation || ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.loaded[key] = resolved
	s.mu.Unlock()

	card.Sink.SetIcon(resolved)
}
