package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"

	"github.com/wolfeidau/psadmin/internal/models"
	"golang.org/x/oauth2"
)

// ProgressFunc receives the number of request body bytes handed to the
// transport so far and the total body size.
type ProgressFunc func(sent, total int64)

// Upload is a file submitted to the bulk import endpoint.
type Upload struct {
	Filename    string
	ContentType string
	Content     io.Reader
	Progress    ProgressFunc
}

// ProblemsService calls the /problems endpoints with the bearer token taken
// from tokens on every request.
type ProblemsService struct {
	client   *Client
	http     *http.Client
	download *http.Client
}

// Problems returns the problem-statement endpoints authenticated by tokens.
func (c *Client) Problems(tokens oauth2.TokenSource) *ProblemsService {
	authed := &oauth2.Transport{Source: tokens, Base: c.transport}
	return &ProblemsService{
		client:   c,
		http:     c.httpClient(authed),
		download: c.httpClient(NewCachingTransport(c.cacheDir, authed)),
	}
}

// List calls GET /problems with the filters as query parameters.
func (s *ProblemsService) List(ctx context.Context, filters models.Filters) (*models.Page, error) {
	req, err := s.client.newRequest(ctx, http.MethodGet, "/problems", filters.Values(), nil)
	if err != nil {
		return nil, err
	}

	var page models.Page
	if err := s.client.do(s.http, req, &page, false); err != nil {
		return nil, err
	}
	return &page, nil
}

// Get calls GET /problems/{id}.
func (s *ProblemsService) Get(ctx context.Context, id string) (*models.ProblemStatement, error) {
	return s.record(ctx, http.MethodGet, "/problems/"+url.PathEscape(id), nil)
}

// Create calls POST /problems.
func (s *ProblemsService) Create(ctx context.Context, problem *models.ProblemStatement) (*models.ProblemStatement, error) {
	return s.record(ctx, http.MethodPost, "/problems", problem)
}

// Update calls PUT /problems/{id} with the supplied fields only.
func (s *ProblemsService) Update(ctx context.Context, id string, update models.ProblemUpdate) (*models.ProblemStatement, error) {
	return s.record(ctx, http.MethodPut, "/problems/"+url.PathEscape(id), update)
}

// Delete calls DELETE /problems/{id}.
func (s *ProblemsService) Delete(ctx context.Context, id string) error {
	req, err := s.client.newRequest(ctx, http.MethodDelete, "/problems/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return err
	}
	return s.client.do(s.http, req, nil, false)
}

// UpdateStatus calls PUT /problems/{id}/status.
func (s *ProblemsService) UpdateStatus(ctx context.Context, id string, status models.Status) (*models.ProblemStatement, error) {
	body := struct {
		Status models.Status `json:"status"`
	}{Status: status}
	return s.record(ctx, http.MethodPut, "/problems/"+url.PathEscape(id)+"/status", body)
}

// ToggleFeatured calls PUT /problems/{id}/featured.
func (s *ProblemsService) ToggleFeatured(ctx context.Context, id string) (*models.ProblemStatement, error) {
	return s.record(ctx, http.MethodPut, "/problems/"+url.PathEscape(id)+"/featured", nil)
}

// Stats calls GET /problems/stats.
func (s *ProblemsService) Stats(ctx context.Context) (*models.Stats, error) {
	req, err := s.client.newRequest(ctx, http.MethodGet, "/problems/stats", nil, nil)
	if err != nil {
		return nil, err
	}

	var stats models.Stats
	if err := s.client.do(s.http, req, &stats, true); err != nil {
		return nil, err
	}
	return &stats, nil
}

// BulkUpload posts the file as multipart form field "file" to
// /problems/bulk-upload.
func (s *ProblemsService) BulkUpload(ctx context.Context, upload Upload) (*models.BulkUploadResult, error) {
	body, contentType, err := multipartBody(upload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.client.endpoint("/problems/bulk-upload", nil),
		&progressReader{r: bytes.NewReader(body), total: int64(len(body)), fn: upload.Progress})
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, newRequestID())

	var envelope struct {
		Success bool                    `json:"success"`
		Message string                  `json:"message"`
		Data    models.BulkUploadResult `json:"data"`
	}
	if err := s.client.do(s.http, req, &envelope, false); err != nil {
		return nil, err
	}

	result := envelope.Data
	result.Success = envelope.Success
	result.Message = envelope.Message
	return &result, nil
}

// Template calls GET /problems/template and copies the CSV to w. Responses
// are served through the HTTP cache when the server allows it.
func (s *ProblemsService) Template(ctx context.Context, w io.Writer) (int64, error) {
	req, err := s.client.newRequest(ctx, http.MethodGet, "/problems/template", nil, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "text/csv")

	resp, err := s.download.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(resp.Body)
		return 0, parseError(resp.StatusCode, data)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to write template: %w", err)
	}
	return n, nil
}

func (s *ProblemsService) record(ctx context.Context, method, path string, body any) (*models.ProblemStatement, error) {
	req, err := s.client.newRequest(ctx, method, path, nil, body)
	if err != nil {
		return nil, err
	}

	var problem models.ProblemStatement
	if err := s.client.do(s.http, req, &problem, true); err != nil {
		return nil, err
	}
	return &problem, nil
}

func multipartBody(upload Upload) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	contentType := upload.ContentType
	if contentType == "" {
		contentType = "text/csv"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, upload.Filename))
	header.Set("Content-Type", contentType)

	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form part: %w", err)
	}
	if _, err := io.Copy(part, upload.Content); err != nil {
		return nil, "", fmt.Errorf("failed to read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish form: %w", err)
	}

	return buf.Bytes(), mw.FormDataContentType(), nil
}

// progressReader reports bytes read by the transport, i.e. real upload progress.
type progressReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.sent += int64(n)
	if p.fn != nil && n > 0 {
		p.fn(p.sent, p.total)
	}
	return n, err
}
