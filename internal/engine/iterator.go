package engine

import (
	"context"
	"errors"
)

// Done is returned by Iterator.Next when the sequence is exhausted.
var Done = errors.New("engine: no more items")

// pageTokenField is the continuation token a paginated response carries.
const pageTokenField = "nextPageToken"

// PageFetch re-executes the underlying call and returns the next page.
// The call arguments are shared with the iterator, which merges the
// continuation token into them before each fetch.
type PageFetch func(ctx context.Context) (map[string]any, error)

// Iterator walks a sequence of paginated responses as a flat stream of
// elements. It is single-owner, single-pass, and forward-only; it never
// retries itself, pages are fetched through the retry executor by the
// fetch function it was built with.
//
// A paginated response holds at most one array-valued top-level field. A
// response with none is not an error: many methods conditionally return
// either a bare object or a collection, so the bare object is yielded as
// a single-element sequence.
type Iterator struct {
	fetch    PageFetch
	args     map[string]any
	page     map[string]any
	itemsKey string
	cursor   int
	yielded  int
	limit    int
	fetched  bool
	finished bool
}

// NewIterator wraps fetch and an optional already-fetched first page into
// an element iterator. A limit of zero means unlimited.
func NewIterator(fetch PageFetch, args map[string]any, first map[string]any, limit int) *Iterator {
	it := &Iterator{
		fetch: fetch,
		args:  args,
		limit: limit,
	}
	if first != nil {
		it.setPage(first)
	}
	return it
}

// setPage installs a page and locates its sole array-valued field.
func (it *Iterator) setPage(page map[string]any) {
	it.page = page
	it.cursor = 0
	it.fetched = true
	it.itemsKey = ""
	for key, value := range page {
		if _, ok := value.([]any); ok {
			it.itemsKey = key
			break
		}
	}
}

// items returns the current page's element array, nil for a bare object.
func (it *Iterator) items() []any {
	if it.itemsKey == "" {
		return nil
	}
	arr, _ := it.page[it.itemsKey].([]any)
	return arr
}

// Next returns the next element, fetching continuation pages as needed.
// It returns Done once the sequence is exhausted; subsequent calls keep
// returning Done.
func (it *Iterator) Next(ctx context.Context) (any, error) {
	if it.finished {
		return nil, Done
	}
	if it.limit > 0 && it.yielded >= it.limit {
		it.finished = true
		return nil, Done
	}

	if !it.fetched {
		page, err := it.fetch(ctx)
		if err != nil {
			it.finished = true
			return nil, err
		}
		it.setPage(page)
	}

	// Bare object: a single-element, immediately exhausted sequence.
	if it.itemsKey == "" {
		it.finished = true
		it.yielded++
		return it.page, nil
	}

	for it.cursor >= len(it.items()) {
		token, _ := it.page[pageTokenField].(string)
		if token == "" {
			it.finished = true
			return nil, Done
		}
		it.mergeToken(token)

		page, err := it.fetch(ctx)
		if err != nil {
			it.finished = true
			return nil, err
		}
		it.setPage(page)
	}

	value := it.items()[it.cursor]
	it.cursor++
	it.yielded++
	return value, nil
}

// mergeToken folds the continuation token back into the request
// arguments, inside the body when the call carries one.
func (it *Iterator) mergeToken(token string) {
	if body, ok := it.args["body"].(map[string]any); ok {
		body["pageToken"] = token
		return
	}
	it.args["pageToken"] = token
}

// Collect drains the iterator into a slice. Convenience for callers that
// want the whole sequence in memory.
func (it *Iterator) Collect(ctx context.Context) ([]any, error) {
	var out []any
	for {
		value, err := it.Next(ctx)
		if errors.Is(err, Done) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, value)
	}
}
