package storage

import (
	"context"
	"io"
	"sync"
)

// PageFetcher fetches one page of a listing. token is "" for the first
// page. A fetcher signals the last page by returning done; next is then
// ignored.
type PageFetcher func(ctx context.Context, token string) (entries []Entry, next string, done bool, err error)

// PageLister is a Lister over a paginated backend listing. Pages are
// fetched lazily, one at a time, as Next drains the previous one.
//
// The backend cursor is released as soon as the last page is drained, or
// on Close, whichever comes first.
type PageLister struct {
	fetch   PageFetcher
	onClose func() error

	mu       sync.Mutex
	page     []Entry
	token    string
	done     bool
	closed   bool
	closeErr error
}

// NewPageLister returns a Lister driven by fetch.
func NewPageLister(fetch PageFetcher) *PageLister {
	return &PageLister{fetch: fetch}
}

// OnClose registers a function that releases the backend cursor. It runs
// once, when the listing is exhausted or closed.
func (l *PageLister) OnClose(fn func() error) *PageLister {
	l.onClose = fn
	return l
}

// Next returns the next entry or io.EOF.
func (l *PageLister) Next(ctx context.Context) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for len(l.page) == 0 {
		if l.closed {
			return Entry{}, io.EOF
		}
		if l.done {
			l.release()
			return Entry{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return Entry{}, err
		}

		entries, next, done, err := l.fetch(ctx, l.token)
		if err != nil {
			return Entry{}, err
		}
		l.page = entries
		l.token = next
		l.done = done
		if !done && next == "" && len(entries) == 0 {
			// A page without entries or a continuation would loop forever.
			l.done = true
		}
	}

	e := l.page[0]
	l.page = l.page[1:]
	return e, nil
}

// Close releases the listing. Calling it after the listing is exhausted
// returns the error of the cursor release, if any.
func (l *PageLister) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.release()
	return l.closeErr
}

// release must be called with mu held.
func (l *PageLister) release() {
	if l.closed {
		return
	}
	l.closed = true
	l.page = nil
	if l.onClose != nil {
		l.closeErr = l.onClose()
	}
}

// NewSliceLister returns a Lister over a fixed set of entries.
func NewSliceLister(entries []Entry) Lister {
	return NewPageLister(func(context.Context, string) ([]Entry, string, bool, error) {
		return entries, "", true, nil
	})
}

// Drain reads every remaining entry of l and closes it.
func Drain(ctx context.Context, l Lister) ([]Entry, error) {
	defer l.Close()

	var out []Entry
	for {
		e, err := l.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
}

// mapLister applies fn to every entry of an inner Lister.
//
// Calls made by fn run within scope, so they share whatever the listing
// itself holds (a concurrency permit, for instance). The inner lister and
// the owned scope are released once the listing reaches io.EOF, or on
// Close.
type mapLister struct {
	inner Lister
	fn    func(ctx context.Context, e Entry) (Entry, error)
	scope *Scope
	owned *Scope

	once     sync.Once
	closed   bool
	closeErr error
}

func (l *mapLister) Next(ctx context.Context) (Entry, error) {
	if l.closed {
		return Entry{}, io.EOF
	}
	e, err := l.inner.Next(ctx)
	if err == io.EOF {
		l.release()
		return Entry{}, io.EOF
	}
	if err != nil {
		return Entry{}, err
	}
	if l.scope != nil && ScopeFrom(ctx) == nil {
		ctx = context.WithValue(ctx, scopeKey{}, l.scope)
	}
	return l.fn(ctx, e)
}

func (l *mapLister) release() {
	l.once.Do(func() {
		l.closed = true
		l.closeErr = l.inner.Close()
		l.owned.Close()
	})
}

func (l *mapLister) Close() error {
	l.release()
	return l.closeErr
}

// errLister wraps the errors of an inner Lister with operation context.
type errLister struct {
	inner Lister
	path  string
}

func (l *errLister) Next(ctx context.Context) (Entry, error) {
	e, err := l.inner.Next(ctx)
	if err != nil && err != io.EOF {
		return Entry{}, wrapError(err, OperationListerNext, l.path)
	}
	return e, err
}

func (l *errLister) Close() error { return l.inner.Close() }
