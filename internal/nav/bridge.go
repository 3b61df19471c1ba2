package nav

import "sync"

// Navigator triggers view transitions. Components receive one instead of
// reading or writing the current view themselves.
type Navigator interface {
	NavigateTo(id PageID) error
	NavigateToBlogPost(postID string) error
}

// Bridge owns the single authoritative current view of one visitor.
// Transitions are synchronous and last-write-wins.
type Bridge struct {
	mu        sync.RWMutex
	current   View
	listeners map[int]func(View)
	nextID    int
}

var _ Navigator = (*Bridge)(nil)

// NewBridge returns a bridge positioned on the home page.
func NewBridge() *Bridge {
	return &Bridge{
		current:   Page{ID: PageHome},
		listeners: make(map[int]func(View)),
	}
}

// NavigateTo switches to a parameterless page, dropping any blog post selection.
func (b *Bridge) NavigateTo(id PageID) error {
	v, err := To(id)
	if err != nil {
		return err
	}
	b.set(v)
	return nil
}

// NavigateToBlogPost switches to the blog post page for postID.
func (b *Bridge) NavigateToBlogPost(postID string) error {
	v, err := ToBlogPost(postID)
	if err != nil {
		return err
	}
	b.set(v)
	return nil
}

// Current returns the view that is visible now.
func (b *Bridge) Current() View {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// OnChange registers fn to be called after every transition. The returned
// func removes it.
func (b *Bridge) OnChange(fn func(View)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

func (b *Bridge) set(v View) {
	b.mu.Lock()
	b.current = v
	fns := make([]func(View), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}
