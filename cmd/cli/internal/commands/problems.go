package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/wolfeidau/psadmin/internal/client"
	"github.com/wolfeidau/psadmin/internal/models"
	"github.com/wolfeidau/psadmin/internal/problems"
)

// ProblemsCmd groups the problem-statement commands.
type ProblemsCmd struct {
	List     ProblemsListCmd     `cmd:"" help:"List problem statements"`
	Get      ProblemsGetCmd      `cmd:"" help:"Show one problem statement"`
	Create   ProblemsCreateCmd   `cmd:"" help:"Create a problem statement"`
	Update   ProblemsUpdateCmd   `cmd:"" help:"Update a problem statement"`
	Delete   ProblemsDeleteCmd   `cmd:"" help:"Delete a problem statement"`
	Status   ProblemsStatusCmd   `cmd:"" help:"Change the status of a problem statement"`
	Feature  ProblemsFeatureCmd  `cmd:"" help:"Toggle the featured flag"`
	Stats    ProblemsStatsCmd    `cmd:"" help:"Show aggregate statistics"`
	Import   ProblemsImportCmd   `cmd:"" help:"Bulk import problem statements from CSV"`
	Template ProblemsTemplateCmd `cmd:"" help:"Download the CSV import template"`
}

type ProblemsListCmd struct {
	Search     string        `help:"Free-text search"`
	Domain     string        `help:"Domain to filter by"`
	Category   string        `help:"Category to filter by (Major, Minor, Capstone)"`
	Difficulty string        `help:"Difficulty to filter by (Beginner, Intermediate, Advanced)"`
	Status     string        `help:"Status to filter by (Active, Draft, Archived)"`
	Featured   string        `help:"Featured filter (true, false)"`
	Page       int           `help:"Page number" default:"1"`
	Limit      int           `help:"Number of problems per page" default:"10"`
	Watch      bool          `help:"Watch for changes" default:"false"`
	Interval   time.Duration `help:"Refresh interval when watching" default:"5s"`
}

func (l *ProblemsListCmd) Run(ctx context.Context, globals *Globals) error {
	filters, err := l.filters()
	if err != nil {
		return err
	}

	a, err := protected(ctx, globals)
	if err != nil {
		return err
	}

	if l.Watch {
		return l.watchProblems(ctx, a, globals.out(), filters)
	}

	return l.listProblems(ctx, a, globals.out(), filters)
}

func (l *ProblemsListCmd) filters() (models.Filters, error) {
	filters := models.Filters{
		Search:     l.Search,
		Domain:     l.Domain,
		Category:   models.Category(l.Category),
		Difficulty: models.Difficulty(l.Difficulty),
		Page:       l.Page,
		Limit:      l.Limit,
	}

	if l.Status != "" {
		status, err := models.ParseStatus(l.Status)
		if err != nil {
			return filters, err
		}
		filters.Status = status
	}

	if l.Featured != "" {
		featured, err := strconv.ParseBool(l.Featured)
		if err != nil {
			return filters, fmt.Errorf("invalid featured filter %q: %w", l.Featured, err)
		}
		filters.Featured = &featured
	}

	if l.Watch && l.Interval <= 0 {
		return filters, fmt.Errorf("invalid watch interval %s: must be greater than zero", l.Interval)
	}

	return filters, nil
}

func (l *ProblemsListCmd) listProblems(ctx context.Context, a *app, w io.Writer, filters models.Filters) error {
	page, err := a.problems.ListProblems(ctx, filters)
	if err != nil {
		return a.apiError(ctx, err)
	}

	printProblems(w, page)
	return nil
}

func (l *ProblemsListCmd) watchProblems(ctx context.Context, a *app, w io.Writer, filters models.Filters) error {
	fmt.Fprintln(w, "Watching problem statements (press Ctrl+C to stop)...")
	fmt.Fprintln(w)

	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()

	if err := l.listProblems(ctx, a, w, filters); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// another client may have written since the last tick
			a.problems.Invalidate(ctx)

			fmt.Fprint(w, "\033[2J\033[H") // Clear screen and move cursor to top
			fmt.Fprintf(w, "Problem statements (updated at %s)\n", time.Now().Format("15:04:05"))
			fmt.Fprintln(w)

			if err := l.listProblems(ctx, a, w, filters); err != nil {
				if a.session.RequireAuthenticated() != nil {
					return err
				}
				fmt.Fprintf(w, "Error updating problem list: %v\n", err)
			}
		}
	}
}

func printProblems(w io.Writer, page *models.Page) {
	if len(page.Data) == 0 {
		fmt.Fprintln(w, "No problem statements found.")
		return
	}

	fmt.Fprintf(w, "%-24s %-40s %-22s %-9s %-13s %-9s %-3s\n",
		"ID", "Title", "Domain", "Category", "Difficulty", "Status", "*")
	fmt.Fprintln(w, strings.Repeat("─", 126))

	for _, p := range page.Data {
		featured := ""
		if p.Featured {
			featured = "*"
		}

		fmt.Fprintf(w, "%-24s %-40s %-22s %-9s %-13s %-9s %-3s\n",
			p.ID,
			truncate(p.Title, 40),
			truncate(p.Domain, 22),
			p.Category,
			p.Difficulty,
			p.Status,
			featured)
	}

	fmt.Fprintf(w, "\nShowing %d of %d problem statements\n", len(page.Data), page.Total)

	if page.Pages > 1 {
		fmt.Fprintf(w, "Pages: %d/%d\n", page.Page, page.Pages)
		if page.Page < page.Pages {
			fmt.Fprintf(w, "Use --page=%d to see next page\n", page.Page+1)
		}
	}
}

type ProblemsGetCmd struct {
	ID string `arg:"" help:"Problem statement ID"`
}

func (g *ProblemsGetCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := protected(ctx, globals)
	if err != nil {
		return err
	}

	p, err := a.problems.GetProblem(ctx, g.ID)
	if err != nil {
		return a.apiError(ctx, err)
	}

	return printProblem(globals.out(), p)
}

func printProblem(out io.Writer, p *models.ProblemStatement) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", p.ID)
	if p.Code != "" {
		fmt.Fprintf(w, "Code:\t%s\n", p.Code)
	}
	fmt.Fprintf(w, "Title:\t%s\n", p.Title)
	fmt.Fprintf(w, "Domain:\t%s\n", p.Domain)
	fmt.Fprintf(w, "Category:\t%s\n", p.Category)
	fmt.Fprintf(w, "Difficulty:\t%s\n", p.Difficulty)
	fmt.Fprintf(w, "Duration:\t%s\n", p.Duration)
	fmt.Fprintf(w, "Status:\t%s\n", p.Status)
	fmt.Fprintf(w, "Featured:\t%t\n", p.Featured)
	fmt.Fprintf(w, "Views:\t%d\n", p.ViewCount)
	fmt.Fprintf(w, "Technologies:\t%s\n", strings.Join(p.Technologies, ", "))
	fmt.Fprintf(w, "Deliverables:\t%s\n", strings.Join(p.Deliverables, ", "))
	if len(p.Prerequisites) > 0 {
		fmt.Fprintf(w, "Prerequisites:\t%s\n", strings.Join(p.Prerequisites, ", "))
	}
	if len(p.LearningOutcomes) > 0 {
		fmt.Fprintf(w, "Learning outcomes:\t%s\n", strings.Join(p.LearningOutcomes, ", "))
	}
	if len(p.Tags) > 0 {
		fmt.Fprintf(w, "Tags:\t%s\n", strings.Join(p.Tags, ", "))
	}
	if !p.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "Updated:\t%s\n", p.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%s\n", p.Abstract)
	return nil
}

// ProblemFields are the record fields accepted as flags by create and update.
type ProblemFields struct {
	Title            string   `help:"Title (5-200 characters)"`
	Abstract         string   `help:"Abstract (50-5000 characters)"`
	Domain           string   `help:"Subject domain"`
	Category         string   `help:"Category (Major, Minor, Capstone)"`
	Difficulty       string   `help:"Difficulty (Beginner, Intermediate, Advanced)"`
	Duration         string   `help:"Expected duration, e.g. 12 weeks"`
	Technologies     []string `help:"Technologies (comma separated)"`
	Deliverables     []string `help:"Deliverables (comma separated)"`
	Prerequisites    []string `help:"Prerequisites (comma separated)"`
	LearningOutcomes []string `help:"Learning outcomes (comma separated)"`
	Tags             []string `help:"Tags (comma separated)"`
	Status           string   `help:"Status (Active, Draft, Archived)"`
}

type ProblemsCreateCmd struct {
	ProblemFields `embed:""`
	File string `help:"YAML/JSON file describing the problem statement" type:"existingfile"`
}

func (c *ProblemsCreateCmd) Run(ctx context.Context, globals *Globals) error {
	problem := &models.ProblemStatement{}
	if c.File != "" {
		if err := loadProblemFile(c.File, problem); err != nil {
			return fmt.Errorf("failed to load problem file: %w", err)
		}
	}
	if err := c.apply(problem); err != nil {
		return err
	}

	a, err := protected(ctx, globals)
	if err != nil {
		return err
	}

	created, err := a.problems.CreateProblem(ctx, problem)
	if err != nil {
		return a.apiError(ctx, err)
	}

	fmt.Fprintf(globals.out(), "Created problem statement %s (%s)\n", created.ID, created.Status)
	return nil
}

// apply overrides p with every flag that was set; flags take precedence over the file.
func (f *ProblemFields) apply(p *models.ProblemStatement) error {
	if f.Title != "" {
		p.Title = f.Title
	}
	if f.Abstract != "" {
		p.Abstract = f.Abstract
	}
	if f.Domain != "" {
		p.Domain = f.Domain
	}
	if f.Category != "" {
		p.Category = models.Category(f.Category)
	}
	if f.Difficulty != "" {
		p.Difficulty = models.Difficulty(f.Difficulty)
	}
	if f.Duration != "" {
		p.Duration = f.Duration
	}
	if len(f.Technologies) > 0 {
		p.Technologies = f.Technologies
	}
	if len(f.Deliverables) > 0 {
		p.Deliverables = f.Deliverables
	}
	if len(f.Prerequisites) > 0 {
		p.Prerequisites = f.Prerequisites
	}
	if len(f.LearningOutcomes) > 0 {
		p.LearningOutcomes = f.LearningOutcomes
	}
	if len(f.Tags) > 0 {
		p.Tags = f.Tags
	}
	if f.Status != "" {
		status, err := models.ParseStatus(f.Status)
		if err != nil {
			return err
		}
		p.Status = status
	}
	return nil
}

// update builds a partial update holding only the flags that were set.
func (f *ProblemFields) update(u *models.ProblemUpdate) error {
	if f.Title != "" {
		u.Title = &f.Title
	}
	if f.Abstract != "" {
		u.Abstract = &f.Abstract
	}
	if f.Domain != "" {
		u.Domain = &f.Domain
	}
	if f.Category != "" {
		category := models.Category(f.Category)
		u.Category = &category
	}
	if f.Difficulty != "" {
		difficulty := models.Difficulty(f.Difficulty)
		u.Difficulty = &difficulty
	}
	if f.Duration != "" {
		u.Duration = &f.Duration
	}
	if len(f.Technologies) > 0 {
		u.Technologies = f.Technologies
	}
	if len(f.Deliverables) > 0 {
		u.Deliverables = f.Deliverables
	}
	if len(f.Prerequisites) > 0 {
		u.Prerequisites = f.Prerequisites
	}
	if len(f.LearningOutcomes) > 0 {
		u.LearningOutcomes = f.LearningOutcomes
	}
	if len(f.Tags) > 0 {
		u.Tags = f.Tags
	}
	if f.Status != "" {
		status, err := models.ParseStatus(f.Status)
		if err != nil {
			return err
		}
		u.Status = &status
	}
	return nil
}

type ProblemsUpdateCmd struct {
	ProblemFields `embed:""`
	ID   string `arg:"" help:"Problem statement ID"`
	File string `help:"YAML/JSON file with the fields to change" type:"existingfile"`
}

func (c *ProblemsUpdateCmd) Run(ctx context.Context, globals *Globals) error {
	var update models.ProblemUpdate
	if c.File != "" {
		if err := loadProblemFile(c.File, &update); err != nil {
			return fmt.Errorf("failed to load problem file: %w", err)
		}
	}
	if err := c.update(&update); err != nil {
		return err
	}

	a, err := protected(ctx, globals)
	if err != nil {
		return err
	}

	updated, err := a.problems.UpdateProblem(ctx, c.ID, update)
	if err != nil {
		return a.apiError(ctx, err)
	}

	fmt.Fprintf(globals.out(), "Updated problem statement %s\n", updated.ID)
	return nil
}

type ProblemsDeleteCmd struct {
	ID  string `arg:"" help:"Problem statement ID"`
	Yes bool   `help:"Skip the confirmation prompt" short:"y"`
}

func (c *ProblemsDeleteCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := protected(ctx, globals)
	if err != nil {
		return err
	}

	confirmFn := func(ctx context.Context, id string) (bool, error) {
		if c.Yes {
			return true, nil
		}
		return confirm(globals.in(), globals.out(),
			fmt.Sprintf("Are you sure you want to delete problem statement %s?", id))
	}

	err = a.problems.DeleteProblem(ctx, c.ID, confirmFn)
	if errors.Is(err, problems.ErrNotConfirmed) {
		fmt.Fprintln(globals.out(), "Aborted.")
		return nil
	}
	if err != nil {
		return a.apiError(ctx, err)
	}

	fmt.Fprintf(globals.out(), "Deleted problem statement %s\n", c.ID)
	return nil
}

type ProblemsStatusCmd struct {
	ID     string `arg:"" help:"Problem statement ID"`
	Status string `arg:"" help:"New status (Active, Draft, Archived)"`
}

func (c *ProblemsStatusCmd) Run(ctx context.Context, globals *Globals) error {
	status, err := models.ParseStatus(c.Status)
	if err != nil {
		return err
	}

	a, err := protected(ctx, globals)
	if err != nil {
		return err
	}

	updated, err := a.problems.UpdateStatus(ctx, c.ID, status)
	if err != nil {
		return a.apiError(ctx, err)
	}

	fmt.Fprintf(globals.out(), "Problem statement %s is now %s\n", updated.ID, updated.Status)
	return nil
}

type ProblemsFeatureCmd struct {
	ID string `arg:"" help:"Problem statement ID"`
}

func (c *ProblemsFeatureCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := protected(ctx, globals)
	if err != nil {
		return err
	}

	updated, err := a.problems.ToggleFeatured(ctx, c.ID)
	if err != nil {
		return a.apiError(ctx, err)
	}

	state := "no longer featured"
	if updated.Featured {
		state = "featured"
	}
	fmt.Fprintf(globals.out(), "Problem statement %s is %s\n", updated.ID, state)
	return nil
}

type ProblemsStatsCmd struct{}

func (c *ProblemsStatsCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := protected(ctx, globals)
	if err != nil {
		return err
	}

	stats, err := a.problems.GetStats(ctx)
	if err != nil {
		return a.apiError(ctx, err)
	}

	w := tabwriter.NewWriter(globals.out(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Total:\t%d\n", stats.Total)
	fmt.Fprintf(w, "Active:\t%d\n", stats.Active)
	fmt.Fprintf(w, "Draft:\t%d\n", stats.Draft)
	fmt.Fprintf(w, "Archived:\t%d\n", stats.Archived)
	fmt.Fprintf(w, "Featured:\t%d\n", stats.Featured)
	fmt.Fprintf(w, "Total views:\t%d\n", stats.TotalViews)

	if len(stats.ByDomain) > 0 {
		fmt.Fprintln(w, "\nDOMAIN\tCOUNT")
		for _, d := range stats.ByDomain {
			fmt.Fprintf(w, "%s\t%d\n", d.Domain, d.Count)
		}
	}
	if len(stats.ByDifficulty) > 0 {
		fmt.Fprintln(w, "\nDIFFICULTY\tCOUNT")
		for _, d := range stats.ByDifficulty {
			fmt.Fprintf(w, "%s\t%d\n", d.Difficulty, d.Count)
		}
	}

	return w.Flush()
}

type ProblemsImportCmd struct {
	File        string `arg:"" help:"CSV file to import" type:"existingfile"`
	ContentType string `help:"Declared content type (detected from the extension when empty)"`
	Quiet       bool   `help:"Do not report upload progress" short:"q"`
}

func (c *ProblemsImportCmd) Run(ctx context.Context, globals *Globals) error {
	contentType := c.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(c.File))
	}

	a, err := protected(ctx, globals)
	if err != nil {
		return err
	}

	f, err := os.Open(c.File)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", c.File, err)
	}
	defer f.Close()

	out := globals.out()
	upload := client.Upload{
		Filename:    filepath.Base(c.File),
		ContentType: contentType,
		Content:     f,
	}
	if !c.Quiet {
		upload.Progress = func(sent, total int64) {
			fmt.Fprintf(out, "\rUploading %s... %3d%%", upload.Filename, sent*100/max(total, 1))
		}
	}

	result, err := a.problems.BulkUpload(ctx, upload)
	if !c.Quiet {
		fmt.Fprintln(out)
	}
	if err != nil {
		return a.apiError(ctx, err)
	}

	printImportResult(out, result)
	return nil
}

func printImportResult(out io.Writer, result *models.BulkUploadResult) {
	if result.Message != "" {
		fmt.Fprintln(out, result.Message)
	}
	fmt.Fprintf(out, "Imported: %d\n", result.Imported)
	fmt.Fprintf(out, "Failed:   %d\n", result.Failed)

	if len(result.Errors) == 0 {
		return
	}

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROW\tFIELD\tERROR")
	for _, e := range result.Errors {
		fmt.Fprintf(w, "%d\t%s\t%s\n", e.Row, e.Field, e.Message)
	}
	w.Flush()
}

type ProblemsTemplateCmd struct {
	Output string `help:"Where to write the template (- for stdout)" short:"o" default:"problem_statements_template.csv"`
}

func (c *ProblemsTemplateCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := protected(ctx, globals)
	if err != nil {
		return err
	}

	if c.Output == "-" {
		if _, err := a.problems.DownloadTemplate(ctx, globals.out()); err != nil {
			return a.apiError(ctx, err)
		}
		return nil
	}

	f, err := os.CreateTemp(filepath.Dir(c.Output), filepath.Base(c.Output)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", c.Output, err)
	}
	defer os.Remove(f.Name())

	n, err := a.problems.DownloadTemplate(ctx, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return a.apiError(ctx, err)
	}

	if err := os.Rename(f.Name(), c.Output); err != nil {
		return fmt.Errorf("failed to save %s: %w", c.Output, err)
	}

	fmt.Fprintf(globals.out(), "Saved template to %s (%d bytes)\n", c.Output, n)
	return nil
}
