package problems

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/psadmin/internal/cache"
	"github.com/wolfeidau/psadmin/internal/client"
	"github.com/wolfeidau/psadmin/internal/models"
)

// fakeAPI is an in-memory backend that counts calls per operation.
type fakeAPI struct {
	mu      sync.Mutex
	records map[string]*models.ProblemStatement
	nextID  int
	calls   map[string]int

	listGate   chan struct{}
	failWrites error
	bulkResult *models.BulkUploadResult
	template   string
}

func newFakeAPI(records ...models.ProblemStatement) *fakeAPI {
	f := &fakeAPI{records: make(map[string]*models.ProblemStatement), calls: make(map[string]int)}
	for i := range records {
		r := records[i]
		f.records[r.ID] = &r
	}
	return f
}

func (f *fakeAPI) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeAPI) hit(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *fakeAPI) List(ctx context.Context, filters models.Filters) (*models.Page, error) {
	f.hit("list")
	if f.listGate != nil {
		<-f.listGate
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	page := &models.Page{Page: 1, Pages: 1}
	for _, r := range f.records {
		if filters.Status != "" && r.Status != filters.Status {
			continue
		}
		if filters.Featured != nil && r.Featured != *filters.Featured {
			continue
		}
		page.Data = append(page.Data, *r)
	}
	page.Total = len(page.Data)
	return page, nil
}

func (f *fakeAPI) Get(ctx context.Context, id string) (*models.ProblemStatement, error) {
	f.hit("get")
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.records[id]
	if !ok {
		return nil, &client.APIError{StatusCode: http.StatusNotFound, Message: "Problem statement not found"}
	}
	c := *r
	return &c, nil
}

func (f *fakeAPI) Create(ctx context.Context, p *models.ProblemStatement) (*models.ProblemStatement, error) {
	f.hit("create")
	if f.failWrites != nil {
		return nil, f.failWrites
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	c := *p
	c.ID = fmt.Sprintf("new-%d", f.nextID)
	f.records[c.ID] = &c
	out := c
	return &out, nil
}

func (f *fakeAPI) Update(ctx context.Context, id string, u models.ProblemUpdate) (*models.ProblemStatement, error) {
	f.hit("update")
	if f.failWrites != nil {
		return nil, f.failWrites
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.records[id]
	if !ok {
		return nil, &client.APIError{StatusCode: http.StatusNotFound}
	}
	if u.Title != nil {
		r.Title = *u.Title
	}
	c := *r
	return &c, nil
}

func (f *fakeAPI) Delete(ctx context.Context, id string) error {
	f.hit("delete")
	if f.failWrites != nil {
		return f.failWrites
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id)
	return nil
}

func (f *fakeAPI) UpdateStatus(ctx context.Context, id string, status models.Status) (*models.ProblemStatement, error) {
	f.hit("status")
	if f.failWrites != nil {
		return nil, f.failWrites
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	r := f.records[id]
	r.Status = status
	c := *r
	return &c, nil
}

func (f *fakeAPI) ToggleFeatured(ctx context.Context, id string) (*models.ProblemStatement, error) {
	f.hit("featured")
	if f.failWrites != nil {
		return nil, f.failWrites
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	r := f.records[id]
	r.Featured = !r.Featured
	c := *r
	return &c, nil
}

func (f *fakeAPI) Stats(ctx context.Context) (*models.Stats, error) {
	f.hit("stats")
	f.mu.Lock()
	defer f.mu.Unlock()

	s := &models.Stats{Total: len(f.records)}
	for _, r := range f.records {
		switch r.Status {
		case models.StatusActive:
			s.Active++
		case models.StatusDraft:
			s.Draft++
		case models.StatusArchived:
			s.Archived++
		}
		if r.Featured {
			s.Featured++
		}
	}
	return s, nil
}

func (f *fakeAPI) BulkUpload(ctx context.Context, upload client.Upload) (*models.BulkUploadResult, error) {
	f.hit("bulk")
	if f.failWrites != nil {
		return nil, f.failWrites
	}
	return f.bulkResult, nil
}

func (f *fakeAPI) Template(ctx context.Context, w io.Writer) (int64, error) {
	f.hit("template")
	n, err := io.WriteString(w, f.template)
	return int64(n), err
}

func validProblem() *models.ProblemStatement {
	return &models.ProblemStatement{
		Title:        "Campus Event Planner",
		Abstract:     strings.Repeat("a", AbstractMinLen),
		Domain:       "Web Development",
		Category:     models.CategoryMajor,
		Difficulty:   models.DifficultyIntermediate,
		Duration:     "12 weeks",
		Technologies: []string{"Go", "PostgreSQL"},
		Deliverables: []string{"Source code"},
	}
}

func seeded() *fakeAPI {
	return newFakeAPI(
		models.ProblemStatement{ID: "p1", Title: "One", Status: models.StatusActive},
		models.ProblemStatement{ID: "p2", Title: "Two", Status: models.StatusDraft},
	)
}

func TestCoordinator_ListProblems_Caches(t *testing.T) {
	ctx := context.Background()
	api := seeded()
	c := NewCoordinator(api, cache.New())

	filters := models.Filters{Status: models.StatusActive, Page: 1, Limit: 10}
	page, err := c.ListProblems(ctx, filters)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	_, err = c.ListProblems(ctx, filters)
	require.NoError(t, err)
	assert.Equal(t, 1, api.count("list"))

	_, err = c.ListProblems(ctx, models.Filters{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, api.count("list"))
}

func TestCoordinator_ListProblems_CoalescesConcurrentReads(t *testing.T) {
	ctx := context.Background()
	api := seeded()
	api.listGate = make(chan struct{})
	c := NewCoordinator(api, cache.New())

	var wg sync.WaitGroup
	var ok atomic.Int32
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.ListProblems(ctx, models.Filters{Status: models.StatusActive}); err == nil {
				ok.Add(1)
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(api.listGate)
	wg.Wait()

	assert.Equal(t, int32(8), ok.Load())
	assert.Equal(t, 1, api.count("list"))
}

func TestCoordinator_WritesInvalidate(t *testing.T) {
	ctx := context.Background()

	writes := map[string]func(c *Coordinator) error{
		"create": func(c *Coordinator) error {
			_, err := c.CreateProblem(ctx, validProblem())
			return err
		},
		"update": func(c *Coordinator) error {
			title := "Renamed problem"
			_, err := c.UpdateProblem(ctx, "p1", models.ProblemUpdate{Title: &title})
			return err
		},
		"delete": func(c *Coordinator) error {
			return c.DeleteProblem(ctx, "p1", func(context.Context, string) (bool, error) { return true, nil })
		},
		"status": func(c *Coordinator) error {
			_, err := c.UpdateStatus(ctx, "p2", models.StatusActive)
			return err
		},
		"featured": func(c *Coordinator) error {
			_, err := c.ToggleFeatured(ctx, "p1")
			return err
		},
	}

	for name, write := range writes {
		t.Run(name, func(t *testing.T) {
			api := seeded()
			c := NewCoordinator(api, cache.New())

			before, err := c.ListProblems(ctx, models.Filters{})
			require.NoError(t, err)
			statsBefore, err := c.GetStats(ctx)
			require.NoError(t, err)

			require.NoError(t, write(c))

			after, err := c.ListProblems(ctx, models.Filters{})
			require.NoError(t, err)
			statsAfter, err := c.GetStats(ctx)
			require.NoError(t, err)

			assert.Equal(t, 2, api.count("list"))
			assert.Equal(t, 2, api.count("stats"))
			assert.NotSame(t, before, after)
			assert.NotSame(t, statsBefore, statsAfter)
		})
	}
}

func TestCoordinator_FailedWriteKeepsCache(t *testing.T) {
	ctx := context.Background()
	api := seeded()
	c := NewCoordinator(api, cache.New())

	_, err := c.ListProblems(ctx, models.Filters{})
	require.NoError(t, err)

	api.failWrites = &client.APIError{StatusCode: http.StatusBadRequest, Message: "Problem statement is locked"}
	_, err = c.ToggleFeatured(ctx, "p1")
	require.Error(t, err)

	var mutErr *MutationError
	require.ErrorAs(t, err, &mutErr)
	assert.Equal(t, "Problem statement is locked", mutErr.Error())
	assert.Equal(t, "update featured status", mutErr.Action)

	_, err = c.ListProblems(ctx, models.Filters{})
	require.NoError(t, err)
	assert.Equal(t, 1, api.count("list"))
}

func TestCoordinator_MutationMessages(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "server message",
			err:  &client.APIError{StatusCode: http.StatusBadRequest, Message: "Duplicate title"},
			want: "Duplicate title",
		},
		{
			name: "joined error list",
			err:  &client.APIError{StatusCode: http.StatusBadRequest, Errors: []string{"title: too short", "domain: invalid"}},
			want: "title: too short; domain: invalid",
		},
		{
			name: "fallback names the action",
			err:  errors.New("connection reset"),
			want: "Failed to create problem",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := seeded()
			api.failWrites = tt.err
			c := NewCoordinator(api, cache.New())

			_, err := c.CreateProblem(ctx, validProblem())
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestCoordinator_CreateProblem(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults status to draft", func(t *testing.T) {
		api := newFakeAPI()
		c := NewCoordinator(api, cache.New())

		created, err := c.CreateProblem(ctx, validProblem())
		require.NoError(t, err)
		assert.Equal(t, models.StatusDraft, created.Status)
	})

	t.Run("keeps explicit status", func(t *testing.T) {
		api := newFakeAPI()
		c := NewCoordinator(api, cache.New())

		p := validProblem()
		p.Status = models.StatusActive
		created, err := c.CreateProblem(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, models.StatusActive, created.Status)
	})

	bounds := []struct {
		name   string
		mutate func(p *models.ProblemStatement)
		field  string
	}{
		{"title of 4", func(p *models.ProblemStatement) { p.Title = strings.Repeat("t", 4) }, "title"},
		{"title of 201", func(p *models.ProblemStatement) { p.Title = strings.Repeat("t", 201) }, "title"},
		{"abstract of 49", func(p *models.ProblemStatement) { p.Abstract = strings.Repeat("a", 49) }, "abstract"},
		{"abstract of 5001", func(p *models.ProblemStatement) { p.Abstract = strings.Repeat("a", 5001) }, "abstract"},
		{"unknown domain", func(p *models.ProblemStatement) { p.Domain = "Astrology" }, "domain"},
		{"no technologies", func(p *models.ProblemStatement) { p.Technologies = nil }, "technologies"},
		{"blank deliverables", func(p *models.ProblemStatement) { p.Deliverables = []string{" "} }, "deliverables"},
		{"empty duration", func(p *models.ProblemStatement) { p.Duration = "" }, "duration"},
	}

	for _, tt := range bounds {
		t.Run("rejects "+tt.name+" without contacting the server", func(t *testing.T) {
			api := newFakeAPI()
			c := NewCoordinator(api, cache.New())

			p := validProblem()
			tt.mutate(p)

			_, err := c.CreateProblem(ctx, p)
			require.ErrorIs(t, err, ErrValidation)

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			_, found := vErr.Field(tt.field)
			assert.True(t, found)
			assert.Zero(t, api.count("create"))
		})
	}

	t.Run("accepts boundary lengths", func(t *testing.T) {
		api := newFakeAPI()
		c := NewCoordinator(api, cache.New())

		for _, n := range []int{TitleMinLen, TitleMaxLen} {
			p := validProblem()
			p.Title = strings.Repeat("t", n)
			_, err := c.CreateProblem(ctx, p)
			require.NoError(t, err)
		}
		for _, n := range []int{AbstractMinLen, AbstractMaxLen} {
			p := validProblem()
			p.Abstract = strings.Repeat("a", n)
			_, err := c.CreateProblem(ctx, p)
			require.NoError(t, err)
		}
		assert.Equal(t, 4, api.count("create"))
	})
}

func TestCoordinator_UpdateProblem_ValidatesSuppliedFields(t *testing.T) {
	ctx := context.Background()
	api := seeded()
	c := NewCoordinator(api, cache.New())

	short := "Tiny"
	_, err := c.UpdateProblem(ctx, "p1", models.ProblemUpdate{Title: &short})
	require.ErrorIs(t, err, ErrValidation)
	assert.Zero(t, api.count("update"))

	featured := true
	_, err = c.UpdateProblem(ctx, "p1", models.ProblemUpdate{Featured: &featured})
	require.NoError(t, err)
	assert.Equal(t, 1, api.count("update"))
}

func TestCoordinator_DeleteProblem(t *testing.T) {
	ctx := context.Background()

	t.Run("declined confirmation sends nothing", func(t *testing.T) {
		api := seeded()
		c := NewCoordinator(api, cache.New())

		err := c.DeleteProblem(ctx, "p1", func(context.Context, string) (bool, error) { return false, nil })
		require.ErrorIs(t, err, ErrNotConfirmed)
		assert.Zero(t, api.count("delete"))
	})

	t.Run("missing confirmation sends nothing", func(t *testing.T) {
		api := seeded()
		c := NewCoordinator(api, cache.New())

		require.ErrorIs(t, c.DeleteProblem(ctx, "p1", nil), ErrNotConfirmed)
		assert.Zero(t, api.count("delete"))
	})

	t.Run("confirmed delete removes the record from the next list", func(t *testing.T) {
		api := seeded()
		c := NewCoordinator(api, cache.New())

		_, err := c.ListProblems(ctx, models.Filters{})
		require.NoError(t, err)

		var asked string
		err = c.DeleteProblem(ctx, "p1", func(_ context.Context, id string) (bool, error) {
			asked = id
			return true, nil
		})
		require.NoError(t, err)
		assert.Equal(t, "p1", asked)

		page, err := c.ListProblems(ctx, models.Filters{})
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)
	})
}

func TestCoordinator_UpdateStatusThenList(t *testing.T) {
	ctx := context.Background()
	api := seeded()
	c := NewCoordinator(api, cache.New())

	archived := models.Filters{Status: models.StatusArchived}
	page, err := c.ListProblems(ctx, archived)
	require.NoError(t, err)
	assert.Empty(t, page.Data)

	_, err = c.UpdateStatus(ctx, "p1", models.StatusArchived)
	require.NoError(t, err)

	page, err = c.ListProblems(ctx, archived)
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "p1", page.Data[0].ID)
}

func TestCoordinator_UpdateStatus_RejectsUnknownStatus(t *testing.T) {
	api := seeded()
	c := NewCoordinator(api, cache.New())

	_, err := c.UpdateStatus(context.Background(), "p1", models.Status("Deleted"))
	require.ErrorIs(t, err, ErrValidation)
	assert.Zero(t, api.count("status"))
}

func TestCoordinator_ToggleFeatured(t *testing.T) {
	ctx := context.Background()
	api := seeded()
	c := NewCoordinator(api, cache.New())

	updated, err := c.ToggleFeatured(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, updated.Featured)

	featured := true
	page, err := c.ListProblems(ctx, models.Filters{Featured: &featured})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "p1", page.Data[0].ID)

	updated, err = c.ToggleFeatured(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, updated.Featured)
}

func TestCoordinator_GetProblem(t *testing.T) {
	ctx := context.Background()
	api := seeded()
	c := NewCoordinator(api, cache.New())

	p, err := c.GetProblem(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "One", p.Title)

	_, err = c.GetProblem(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, api.count("get"))

	title := "Renamed problem"
	_, err = c.UpdateProblem(ctx, "p1", models.ProblemUpdate{Title: &title})
	require.NoError(t, err)

	p, err = c.GetProblem(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed problem", p.Title)

	_, err = c.GetProblem(ctx, "missing")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestCoordinator_BulkUpload(t *testing.T) {
	ctx := context.Background()

	t.Run("non-CSV file is rejected without a request", func(t *testing.T) {
		api := seeded()
		c := NewCoordinator(api, cache.New())

		_, err := c.BulkUpload(ctx, client.Upload{
			Filename:    "problems.xlsx",
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Content:     strings.NewReader("x"),
		})
		require.ErrorIs(t, err, ErrNotCSV)
		assert.Zero(t, api.count("bulk"))
	})

	t.Run("partial success is a success", func(t *testing.T) {
		api := seeded()
		api.bulkResult = &models.BulkUploadResult{
			Success:  true,
			Message:  "Imported 22 problem statements",
			Imported: 22,
			Failed:   3,
			Errors: []models.RowError{
				{Row: 4, Field: "title", Message: "Title must be at least 5 characters"},
				{Row: 9, Field: "domain", Message: "Invalid domain"},
				{Row: 17, Field: "deliverables", Message: "At least one deliverable is required"},
			},
		}
		c := NewCoordinator(api, cache.New())

		_, err := c.ListProblems(ctx, models.Filters{})
		require.NoError(t, err)

		result, err := c.BulkUpload(ctx, client.Upload{Filename: "batch.csv", Content: strings.NewReader("title\n")})
		require.NoError(t, err)
		assert.Equal(t, 22, result.Imported)
		assert.Equal(t, 3, result.Failed)
		assert.Len(t, result.Errors, 3)
		assert.True(t, result.PartiallyFailed())
		assert.Equal(t, 9, result.Errors[1].Row)

		_, err = c.ListProblems(ctx, models.Filters{})
		require.NoError(t, err)
		assert.Equal(t, 2, api.count("list"))
	})

	t.Run("declared CSV type without extension is accepted", func(t *testing.T) {
		api := seeded()
		api.bulkResult = &models.BulkUploadResult{Success: true, Imported: 1}
		c := NewCoordinator(api, cache.New())

		_, err := c.BulkUpload(ctx, client.Upload{Filename: "export", ContentType: "text/csv; charset=utf-8", Content: strings.NewReader("")})
		require.NoError(t, err)
		assert.Equal(t, 1, api.count("bulk"))
	})
}

func TestCoordinator_DownloadTemplate(t *testing.T) {
	api := seeded()
	api.template = "title,abstract,domain\n"
	c := NewCoordinator(api, cache.New())

	var buf bytes.Buffer
	n, err := c.DownloadTemplate(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(api.template)), n)
	assert.Equal(t, api.template, buf.String())
}

func TestIsCSV(t *testing.T) {
	tests := []struct {
		filename    string
		contentType string
		want        bool
	}{
		{"problems.csv", "", true},
		{"PROBLEMS.CSV", "", true},
		{"problems.txt", "text/csv", true},
		{"problems", "application/csv", true},
		{"problems.json", "application/json", false},
		{"problems.xlsx", "", false},
		{"problems", "not a media type;;", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename+" "+tt.contentType, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCSV(tt.filename, tt.contentType))
		})
	}
}
