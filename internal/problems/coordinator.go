// Package problems mediates every read and write of problem-statement
// records. Reads go through the shared query cache; each successful write
// invalidates the cached lists, stats and records so the next read refetches.
package problems

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/psadmin/internal/cache"
	"github.com/wolfeidau/psadmin/internal/client"
	"github.com/wolfeidau/psadmin/internal/models"
	"github.com/wolfeidau/psadmin/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Query names used as cache key prefixes.
const (
	QueryListProblems = "listProblems"
	QueryGetStats     = "getStats"
	QueryGetProblem   = "getProblem"
)

// ErrNotConfirmed is returned when a delete was not confirmed.
var ErrNotConfirmed = errors.New("deletion not confirmed")

// API is the set of REST operations the coordinator wraps.
type API interface {
	List(ctx context.Context, filters models.Filters) (*models.Page, error)
	Get(ctx context.Context, id string) (*models.ProblemStatement, error)
	Create(ctx context.Context, problem *models.ProblemStatement) (*models.ProblemStatement, error)
	Update(ctx context.Context, id string, update models.ProblemUpdate) (*models.ProblemStatement, error)
	Delete(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, status models.Status) (*models.ProblemStatement, error)
	ToggleFeatured(ctx context.Context, id string) (*models.ProblemStatement, error)
	Stats(ctx context.Context) (*models.Stats, error)
	BulkUpload(ctx context.Context, upload client.Upload) (*models.BulkUploadResult, error)
	Template(ctx context.Context, w io.Writer) (int64, error)
}

var _ API = (*client.ProblemsService)(nil)

// ConfirmFunc asks the operator to confirm deleting the record with id.
type ConfirmFunc func(ctx context.Context, id string) (bool, error)

// MutationError is a failed write. Error returns the human-readable message
// derived from the server response; Unwrap exposes the cause.
type MutationError struct {
	Action  string
	Message string
	Err     error
}

func (e *MutationError) Error() string {
	return e.Message
}

func (e *MutationError) Unwrap() error {
	return e.Err
}

// Coordinator serves cached reads and invalidating writes. Values returned
// by reads are shared with other readers and must not be modified.
type Coordinator struct {
	api   API
	cache *cache.Cache
}

// NewCoordinator wraps api with the shared cache c.
func NewCoordinator(api API, c *cache.Cache) *Coordinator {
	return &Coordinator{api: api, cache: c}
}

// ListProblems returns one page of records. Filtering happens server-side;
// the result is cached per distinct filter set.
func (c *Coordinator) ListProblems(ctx context.Context, filters models.Filters) (*models.Page, error) {
	page, err := cache.Query(ctx, c.cache, QueryListProblems, filters.Values(),
		func(ctx context.Context) (*models.Page, error) {
			return c.api.List(ctx, filters)
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list problems: %w", err)
	}
	return page, nil
}

// GetStats returns the aggregate counts and distributions.
func (c *Coordinator) GetStats(ctx context.Context) (*models.Stats, error) {
	stats, err := cache.Query(ctx, c.cache, QueryGetStats, nil, c.api.Stats)
	if err != nil {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}
	return stats, nil
}

// GetProblem returns one record.
func (c *Coordinator) GetProblem(ctx context.Context, id string) (*models.ProblemStatement, error) {
	problem, err := cache.Query(ctx, c.cache, QueryGetProblem, idParams(id),
		func(ctx context.Context) (*models.ProblemStatement, error) {
			return c.api.Get(ctx, id)
		})
	if err != nil {
		return nil, fmt.Errorf("failed to load problem %s: %w", id, err)
	}
	return problem, nil
}

// CreateProblem validates p and creates it. Status defaults to Draft.
func (c *Coordinator) CreateProblem(ctx context.Context, p *models.ProblemStatement) (*models.ProblemStatement, error) {
	if err := ValidateProblem(p); err != nil {
		c.rejected(ctx, "create")
		return nil, err
	}

	body := *p
	if body.Status == "" {
		body.Status = models.StatusDraft
	}

	return mutate(ctx, c, "create problem", func(ctx context.Context) (*models.ProblemStatement, error) {
		return c.api.Create(ctx, &body)
	})
}

// UpdateProblem validates the supplied fields and sends them.
func (c *Coordinator) UpdateProblem(ctx context.Context, id string, update models.ProblemUpdate) (*models.ProblemStatement, error) {
	if err := ValidateUpdate(update); err != nil {
		c.rejected(ctx, "update")
		return nil, err
	}

	return mutate(ctx, c, "update problem", func(ctx context.Context) (*models.ProblemStatement, error) {
		return c.api.Update(ctx, id, update)
	})
}

// DeleteProblem deletes a record once confirm agrees. A nil confirm or a
// declined confirmation returns ErrNotConfirmed without calling the API.
func (c *Coordinator) DeleteProblem(ctx context.Context, id string, confirm ConfirmFunc) error {
	if confirm == nil {
		return ErrNotConfirmed
	}
	ok, err := confirm(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to confirm deletion: %w", err)
	}
	if !ok {
		return ErrNotConfirmed
	}

	_, err = mutate(ctx, c, "delete problem", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.api.Delete(ctx, id)
	})
	return err
}

// UpdateStatus moves a record to Active, Draft or Archived.
func (c *Coordinator) UpdateStatus(ctx context.Context, id string, status models.Status) (*models.ProblemStatement, error) {
	if !status.Valid() {
		c.rejected(ctx, "status")
		return nil, &ValidationError{Fields: []FieldError{{Field: "status", Message: "must be one of Active, Draft, Archived"}}}
	}

	return mutate(ctx, c, "update status", func(ctx context.Context) (*models.ProblemStatement, error) {
		return c.api.UpdateStatus(ctx, id, status)
	})
}

// ToggleFeatured flips the featured flag server-side.
func (c *Coordinator) ToggleFeatured(ctx context.Context, id string) (*models.ProblemStatement, error) {
	return mutate(ctx, c, "update featured status", func(ctx context.Context) (*models.ProblemStatement, error) {
		return c.api.ToggleFeatured(ctx, id)
	})
}

// BulkUpload imports a CSV file. Non-CSV files are rejected with ErrNotCSV
// before any request. A response with failed rows is still a success: the
// result carries both counts and every row error.
func (c *Coordinator) BulkUpload(ctx context.Context, upload client.Upload) (*models.BulkUploadResult, error) {
	if !IsCSV(upload.Filename, upload.ContentType) {
		c.rejected(ctx, "bulk_upload")
		return nil, fmt.Errorf("%w: %s", ErrNotCSV, upload.Filename)
	}

	result, err := mutate(ctx, c, "upload problems", func(ctx context.Context) (*models.BulkUploadResult, error) {
		return c.api.BulkUpload(ctx, upload)
	})
	if err != nil {
		return nil, err
	}

	m := telemetry.GetMetrics()
	m.BulkRowsImported.Add(ctx, int64(result.Imported))
	m.BulkRowsFailed.Add(ctx, int64(result.Failed))

	log.Info().
		Str("file", upload.Filename).
		Int("imported", result.Imported).
		Int("failed", result.Failed).
		Msg("bulk upload finished")

	return result, nil
}

// DownloadTemplate writes the CSV import template to w. It does not touch
// the query cache.
func (c *Coordinator) DownloadTemplate(ctx context.Context, w io.Writer) (int64, error) {
	n, err := c.api.Template(ctx, w)
	if err != nil {
		return n, &MutationError{Action: "download template", Message: client.MessageFor(err, "download template"), Err: err}
	}
	return n, nil
}

// Invalidate marks every cached list, stats and record entry stale.
func (c *Coordinator) Invalidate(ctx context.Context) {
	for _, prefix := range []string{QueryListProblems, QueryGetStats, QueryGetProblem} {
		c.cache.Invalidate(ctx, prefix)
	}
}

// mutate runs a write, converts a failure into a *MutationError and, only on
// success, invalidates the dependent queries.
func mutate[T any](ctx context.Context, c *Coordinator, action string, fn func(context.Context) (T, error)) (T, error) {
	m := telemetry.GetMetrics()
	attrs := metric.WithAttributes(attribute.String("action", action))
	m.MutationsTotal.Add(ctx, 1, attrs)

	v, err := fn(ctx)
	if err != nil {
		m.MutationErrorsTotal.Add(ctx, 1, attrs)
		log.Debug().Err(err).Str("action", action).Msg("mutation failed")

		var zero T
		return zero, &MutationError{Action: action, Message: client.MessageFor(err, action), Err: err}
	}

	c.Invalidate(ctx)
	return v, nil
}

func (c *Coordinator) rejected(ctx context.Context, op string) {
	telemetry.GetMetrics().ValidationRejections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("operation", op)))
}

func idParams(id string) url.Values {
	return url.Values{"id": {id}}
}
