package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/starford/masail/internal/apperr"
	"github.com/starford/masail/internal/models"
)

const (
	msgSearchFailed = "Failed to search documents"
	msgFacetsFailed = "Failed to load filters"

	maxQueryLen = 500

	cacheKeyMadhabs    = "madhabs"
	cacheKeyCategories = "categories"
)

// SearchAPI is what the search view calls.
type SearchAPI interface {
	Search(ctx context.Context, req models.SearchRequest) ([]models.DocumentSummary, error)
	Madhabs(ctx context.Context) ([]models.Madhab, error)
	Categories(ctx context.Context) ([]models.Category, error)
}

// Criteria is the user's search input.
type Criteria struct {
	Query       string     `json:"query"`
	MadhabIDs   []int      `json:"madhab_ids"`
	CategoryIDs []int      `json:"category_ids"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
}

// Validate checks the criteria before anything is sent.
func (c Criteria) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Query, validation.Length(0, maxQueryLen)),
		validation.Field(&c.EndDate, validation.When(c.StartDate != nil && c.EndDate != nil,
			validation.By(func(any) error {
				if c.EndDate.Before(*c.StartDate) {
					return errors.New("must not be before start_date")
				}
				return nil
			}))),
	)
}

func (c Criteria) request() models.SearchRequest {
	req := models.SearchRequest{
		Query:       c.Query,
		MadhabIDs:   slices.Clone(c.MadhabIDs),
		CategoryIDs: slices.Clone(c.CategoryIDs),
		StartDate:   c.StartDate,
		EndDate:     c.EndDate,
	}
	if req.MadhabIDs == nil {
		req.MadhabIDs = []int{}
	}
	if req.CategoryIDs == nil {
		req.CategoryIDs = []int{}
	}
	return req
}

// SearchState is a snapshot of the search view.
type SearchState struct {
	Criteria Criteria                 `json:"criteria"`
	Results  []models.DocumentSummary `json:"results"`
	Status   Status                   `json:"status"`
	Error    string                   `json:"error,omitempty"`
	// Submitted is false until the first explicit submission.
	Submitted bool `json:"submitted"`
}

// NoResults reports whether the "no results" hint applies.
func (s SearchState) NoResults() bool {
	return s.Submitted && s.Criteria.Query != "" && s.Status != StatusPending && len(s.Results) == 0
}

// Search is the search view. Editing criteria never touches the network;
// only Submit does. Each submission carries a sequence number and only the
// newest submission's response is applied.
type Search struct {
	api    SearchAPI
	facets *cache.Cache
	log    *slog.Logger

	mu        sync.Mutex
	criteria  Criteria
	results   []models.DocumentSummary
	status    Status
	errMsg    string
	seq       uint64
	submitted bool
}

// NewSearch creates a search view. facetTTL controls how long madhab and
// category lists are reused before being fetched again.
func NewSearch(api SearchAPI, facetTTL time.Duration, logger *slog.Logger) *Search {
	if facetTTL <= 0 {
		facetTTL = 10 * time.Minute
	}
	return &Search{
		api:     api,
		facets:  cache.New(facetTTL, 2*facetTTL),
		log:     logger.With("view", "search"),
		results: []models.DocumentSummary{},
		status:  StatusIdle,
	}
}

// SetQuery updates the free-text query.
func (s *Search) SetQuery(q string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.criteria.Query = q
}

// SetMadhabs replaces the selected madhab ids.
func (s *Search) SetMadhabs(ids ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.criteria.MadhabIDs = slices.Clone(ids)
}

// SetCategories replaces the selected category ids.
func (s *Search) SetCategories(ids ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.criteria.CategoryIDs = slices.Clone(ids)
}

// SetDateRange sets the optional publication date bounds.
func (s *Search) SetDateRange(start, end *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.criteria.StartDate = start
	s.criteria.EndDate = end
}

// SetCriteria replaces all criteria at once.
func (s *Search) SetCriteria(c Criteria) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.MadhabIDs = slices.Clone(c.MadhabIDs)
	c.CategoryIDs = slices.Clone(c.CategoryIDs)
	s.criteria = c
}

// State returns a snapshot of the view.
func (s *Search) State() SearchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Search) stateLocked() SearchState {
	c := s.criteria
	c.MadhabIDs = slices.Clone(c.MadhabIDs)
	c.CategoryIDs = slices.Clone(c.CategoryIDs)
	return SearchState{
		Criteria:  c,
		Results:   slices.Clone(s.results),
		Status:    s.status,
		Error:     s.errMsg,
		Submitted: s.submitted,
	}
}

// Submit issues one search with the current criteria. On failure the
// previous results stay and a visible error is set. If a newer Submit was
// issued meanwhile, this response is dropped and ErrSuperseded returned.
func (s *Search) Submit(ctx context.Context) (SearchState, error) {
	s.mu.Lock()
	if err := s.criteria.Validate(); err != nil {
		s.status = StatusError
		s.errMsg = err.Error()
		st := s.stateLocked()
		s.mu.Unlock()
		return st, viewErr(err.Error(), errors.Join(apperr.ErrInvalidInput, err))
	}
	s.seq++
	seq := s.seq
	req := s.criteria.request()
	s.status = StatusPending
	s.errMsg = ""
	s.submitted = true
	s.mu.Unlock()

	results, err := s.api.Search(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq {
		s.log.Debug("dropping stale search response", slog.Uint64("seq", seq), slog.Uint64("latest", s.seq))
		return s.stateLocked(), ErrSuperseded
	}
	if err != nil {
		s.log.Error("search failed", slog.String("query", req.Query), slog.String("error", err.Error()))
		s.status = StatusError
		s.errMsg = msgSearchFailed
		return s.stateLocked(), viewErr(msgSearchFailed, err)
	}
	s.results = results
	s.status = StatusSuccess
	return s.stateLocked(), nil
}

// Facets is the filter vocabulary of the search view.
type Facets struct {
	Madhabs    []models.Madhab   `json:"madhabs"`
	Categories []models.Category `json:"categories"`
}

// LoadFacets returns madhabs and categories, fetching both in parallel
// when either is not cached.
func (s *Search) LoadFacets(ctx context.Context) (Facets, error) {
	m, mok := s.facets.Get(cacheKeyMadhabs)
	c, cok := s.facets.Get(cacheKeyCategories)
	if mok && cok {
		return Facets{Madhabs: m.([]models.Madhab), Categories: c.([]models.Category)}, nil
	}

	var out Facets
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		out.Madhabs, err = s.api.Madhabs(gCtx)
		return err
	})
	g.Go(func() error {
		var err error
		out.Categories, err = s.api.Categories(gCtx)
		return err
	})
	if err := g.Wait(); err != nil {
		s.log.Error("load facets failed", slog.String("error", err.Error()))
		return Facets{}, viewErr(msgFacetsFailed, err)
	}
	s.facets.SetDefault(cacheKeyMadhabs, out.Madhabs)
	s.facets.SetDefault(cacheKeyCategories, out.Categories)
	return out, nil
}

// InvalidateFacets drops the cached facet lists.
func (s *Search) InvalidateFacets() {
	s.facets.Flush()
}
