// Package gallery drives the paged browsing state machine on top of the
// repository. It owns the phase transitions a frontend observes, collapses
// concurrent load requests, and discards responses that arrive after the
// controller was closed.
package gallery

import (
	"context"
	"sync"

	"pixgrid/internal/core/logger"
	"pixgrid/internal/core/types"
	"pixgrid/internal/repo"
)

// Phase is the controller's lifecycle position.
type Phase string

const (
	PhaseInitial     Phase = "initial"      // nothing loaded yet
	PhaseLoading     Phase = "loading"      // first page in flight
	PhaseLoaded      Phase = "loaded"       // at least one page shown
	PhaseLoadingMore Phase = "loading-more" // appending a further page
	PhaseError       Phase = "error"        // last load failed
)

// State is a snapshot of the gallery published to subscribers.
type State struct {
	Phase   Phase
	Images  []types.ImageRecord
	Page    int // last fully loaded 1-indexed page, 0 before the first
	HasMore bool
	Err     error
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

func WithPageSize(size int) ControllerOption {
	return func(c *Controller) {
		if size > 0 {
			c.pageSize = size
		}
	}
}

func WithControllerLogger(log *logger.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = log
	}
}

// Controller sequences page loads for one gallery view.
//
// Loads run asynchronously; each carries the generation it was started
// under, and results from an older generation are dropped on arrival. Close
// bumps the generation so every in-flight response becomes stale. While a
// load is in flight, further load calls collapse into it.
type Controller struct {
	repo     *repo.Repository
	logger   *logger.Logger
	pageSize int

	mu         sync.Mutex
	state      State
	generation uint64
	inFlight   bool
	closed     bool
	subs       []chan State
}

func NewController(r *repo.Repository, opts ...ControllerOption) *Controller {
	c := &Controller{
		repo:     r,
		logger:   logger.NewLogger(logger.WithName("gallery")),
		pageSize: types.DefaultGalleryConfig().PageSize,
		state:    State{Phase: PhaseInitial, HasMore: true},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe returns a channel receiving every published state snapshot.
// The channel is buffered; a slow consumer misses intermediate snapshots
// rather than blocking the controller.
func (c *Controller) Subscribe() <-chan State {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan State, 8)
	if c.closed {
		// A closed controller publishes nothing more; hand back a closed
		// channel so ranging consumers terminate instead of hanging
		close(ch)
		return ch
	}
	c.subs = append(c.subs, ch)
	return ch
}

// LoadInitial loads the first page, replacing whatever is shown. A load
// already in flight absorbs the call.
func (c *Controller) LoadInitial(ctx context.Context) {
	c.mu.Lock()
	if c.closed || c.inFlight {
		c.mu.Unlock()
		return
	}
	c.inFlight = true
	gen := c.generation
	c.state = State{Phase: PhaseLoading, HasMore: true}
	c.publishLocked()
	c.mu.Unlock()

	go c.load(ctx, gen, 1, nil)
}

// LoadMore appends the next page. It is a no-op while another load is in
// flight, after exhaustion, and in every phase except Loaded.
func (c *Controller) LoadMore(ctx context.Context) {
	c.mu.Lock()
	if c.closed || c.inFlight || !c.state.HasMore || c.state.Phase != PhaseLoaded {
		c.mu.Unlock()
		return
	}
	c.inFlight = true
	gen := c.generation
	page := c.state.Page + 1
	prior := c.state.Images
	c.state.Phase = PhaseLoadingMore
	c.publishLocked()
	c.mu.Unlock()

	go c.load(ctx, gen, page, prior)
}

// load fetches one page and folds the result into the state, unless the
// generation moved on while the fetch was in flight.
func (c *Controller) load(ctx context.Context, gen uint64, page int, prior []types.ImageRecord) {
	recs, err := c.repo.FetchPage(ctx, page, c.pageSize)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		// The in-flight flag belongs to the current generation's load,
		// not to this stale one
		c.logger.Debug("discarded stale page response", "page", page)
		return
	}
	c.inFlight = false

	if err != nil {
		c.logger.Warn("page load failed", "page", page, "kind", types.KindOf(err), "error", err)
		c.state.Phase = PhaseError
		c.state.Err = err
		c.publishLocked()
		return
	}

	images := prior
	images = append(images[:len(images):len(images)], recs...)
	hasMore := c.state.HasMore && len(recs) == c.pageSize

	c.state = State{
		Phase:   PhaseLoaded,
		Images:  images,
		Page:    page,
		HasMore: hasMore,
	}
	c.publishLocked()
}

// ClearCache wipes blobs and metadata and reloads from page one. A failing
// wipe surfaces as an error state; the reload only starts after a clean
// wipe.
func (c *Controller) ClearCache(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	// Invalidate any in-flight load before the wipe so its result cannot
	// resurrect pre-clear images
	c.generation++
	c.inFlight = false
	c.mu.Unlock()

	if err := c.repo.ClearCache(); err != nil {
		c.mu.Lock()
		c.state.Phase = PhaseError
		c.state.Err = err
		c.publishLocked()
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	c.state = State{Phase: PhaseInitial, HasMore: true}
	c.publishLocked()
	c.mu.Unlock()

	c.LoadInitial(ctx)
}

// Close invalidates in-flight loads and closes all subscriptions. Results
// arriving afterwards are discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.generation++
	for _, ch := range c.subs {
		close(ch)
	}
	c.subs = nil
}

func (c *Controller) publishLocked() {
	for _, ch := range c.subs {
		select {
		case ch <- c.state:
		default:
		}
	}
}
