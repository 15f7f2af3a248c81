package pagination

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/edukit/canvas-mcp/pkg/client"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultPageSize is used when a seed request does not specify one. Canvas
// caps per_page at 100.
const DefaultPageSize = 100

// Limits caps a page sequence. Zero values mean unlimited.
type Limits struct {
	// MaxPages stops the sequence after this many pages.
	MaxPages int

	// MaxItems stops the sequence once this many items were yielded,
	// truncating the final page.
	MaxItems int
}

// Meta is the user-facing pagination summary derived from a sequence.
type Meta struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	NextPage   *int `json:"next_page"`
	TotalCount *int `json:"total_count,omitempty"`

	// Truncated signals that MaxItems cut the final page short even though
	// the upstream may hold more data.
	Truncated bool `json:"truncated,omitempty"`
}

// Result is the collected outcome of a page sequence.
type Result struct {
	Items []Item
	Meta  Meta
}

// Paginator drives repeated transport calls through the cursor abstraction
// until exhaustion or a caller-imposed cap.
type Paginator struct {
	client *client.Client
	logger zerolog.Logger
}

// New creates a Paginator on top of a transport client.
func New(c *client.Client) *Paginator {
	return &Paginator{
		client: c,
		logger: log.With().Str("component", "paginator").Logger(),
	}
}

// Sequence is a lazy, finite iteration over pages. It is restartable by
// calling Pages again with the same seed; the sequence itself holds no
// state beyond the cursor.
type Sequence struct {
	paginator *Paginator
	cred      client.Credential
	limits    Limits

	req       client.PageRequest
	style     style
	startPage int
	page      int

	pagesFetched int
	itemsSeen    int
	current      *PageResult
	truncated    bool
	hasMore      bool
	done         bool
	err          error
}

// Pages starts a new lazy page sequence from a seed request. Pages are
// fetched strictly in order: page N+1 is never requested before page N's
// cursor is known.
func (p *Paginator) Pages(seed client.PageRequest, cred client.Credential, limits Limits) *Sequence {
	if seed.PageSize <= 0 {
		seed.PageSize = DefaultPageSize
	}

	startPage := 1
	if seed.Query != nil {
		if n, err := strconv.Atoi(seed.Query.Get("page")); err == nil && n > 0 {
			startPage = n
		}
	}

	return &Sequence{
		paginator: p,
		cred:      cred,
		limits:    limits,
		req:       seed,
		startPage: startPage,
		page:      startPage,
	}
}

// Next fetches the next page. It returns false when the sequence is
// exhausted, capped, or failed; check Err afterwards.
func (s *Sequence) Next(ctx context.Context) bool {
	if s.done || s.err != nil {
		return false
	}
	if s.limits.MaxPages > 0 && s.pagesFetched >= s.limits.MaxPages {
		s.done = true
		return false
	}
	if s.limits.MaxItems > 0 && s.itemsSeen >= s.limits.MaxItems {
		s.done = true
		return false
	}

	raw, err := s.paginator.client.FetchPage(ctx, s.req, s.cred)
	if err != nil {
		s.err = err
		s.done = true
		return false
	}

	result, st, err := parsePage(raw, s.style, s.page, s.req.PageSize)
	if err != nil {
		s.err = err
		s.done = true
		return false
	}
	s.style = st
	s.pagesFetched++

	if s.limits.MaxItems > 0 && s.itemsSeen+len(result.Items) > s.limits.MaxItems {
		result.Items = result.Items[:s.limits.MaxItems-s.itemsSeen]
		s.truncated = true
	}
	s.itemsSeen += len(result.Items)
	s.current = result

	// Truncation alone does not imply another upstream page; only a live
	// cursor does. The cut is reported via Truncated instead.
	s.hasMore = result.NextCursor != ""
	if result.NextCursor == "" {
		s.done = true
	} else {
		s.advance(result.NextCursor)
	}

	return true
}

// advance prepares the request for the page behind cursor.
func (s *Sequence) advance(cursor string) {
	s.page++
	if s.style == styleLinkHeader {
		// Link cursors are complete URLs carrying their own query.
		s.req = client.PageRequest{Path: cursor, PageSize: s.req.PageSize}
		return
	}

	query := url.Values{}
	for key, values := range s.req.Query {
		query[key] = values
	}
	query.Set("page", cursor)
	s.req.Query = query
}

// Page returns the most recently fetched page.
func (s *Sequence) Page() *PageResult {
	return s.current
}

// Err returns the error that terminated the sequence, if any.
func (s *Sequence) Err() error {
	return s.err
}

// HasMore reports whether the upstream advertised another page when the
// sequence stopped (a cap hit before the terminal page).
func (s *Sequence) HasMore() bool {
	return s.hasMore
}

// Truncated reports whether MaxItems cut the final page short.
func (s *Sequence) Truncated() bool {
	return s.truncated
}

// Collect walks a sequence to its end and gathers all items. On failure the
// partial result gathered so far is returned alongside the error, never
// discarded.
func (p *Paginator) Collect(ctx context.Context, seed client.PageRequest, cred client.Credential, limits Limits) (*Result, error) {
	start := time.Now()
	seq := p.Pages(seed, cred, limits)

	var items []Item
	var totalCount *int
	for seq.Next(ctx) {
		page := seq.Page()
		items = append(items, page.Items...)
		if page.TotalCount != nil {
			totalCount = page.TotalCount
		}
	}

	result := &Result{
		Items: items,
		Meta: Meta{
			Page:       seq.startPage,
			PageSize:   seq.req.PageSize,
			TotalCount: totalCount,
			Truncated:  seq.truncated,
		},
	}
	if seq.hasMore {
		next := seq.startPage + seq.pagesFetched
		result.Meta.NextPage = &next
	}

	p.logger.Debug().
		Str("path", seed.Path).
		Int("pages", seq.pagesFetched).
		Int("items", len(items)).
		Bool("has_more", seq.hasMore).
		Dur("duration", time.Since(start)).
		Msg("Page sequence complete")

	return result, seq.Err()
}
