// Package gemini is a thin client for the Gemini Files and generateContent
// REST endpoints.
package gemini

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/chmdznr/corpussync/internal/remote"
	"github.com/chmdznr/corpussync/pkg/models"
	"github.com/chmdznr/corpussync/pkg/version"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	listPageSize   = 100
)

// Options configures a Client.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	HTTPRetries int
	Logger      *zap.Logger
}

// Client talks to the Gemini API. It implements remote.Registry and
// tools.Generator.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *retryablehttp.Client
	logger  *zap.Logger
}

// New creates a client.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.HTTPRetries < 0 {
		opts.HTTPRetries = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = opts.HTTPRetries
	httpClient.RetryWaitMin = 200 * time.Millisecond
	httpClient.RetryWaitMax = 5 * time.Second
	httpClient.HTTPClient.Timeout = opts.Timeout
	httpClient.Logger = leveledLogger{logger.Named("http")}
	// hand the final response back so status codes can be classified
	httpClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(opts.APIKey),
		model:   opts.Model,
		http:    httpClient,
		logger:  logger,
	}, nil
}

// List returns every file in the project, following page tokens.
func (c *Client) List(ctx context.Context) ([]models.RemoteFile, error) {
	var files []models.RemoteFile
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("pageSize", strconv.Itoa(listPageSize))
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		body, _, err := c.do(ctx, http.MethodGet, c.baseURL+"/v1beta/files?"+q.Encode(), nil, nil)
		if err != nil {
			return nil, fmt.Errorf("list files: %w", err)
		}
		parsed := gjson.ParseBytes(body)
		for _, f := range parsed.Get("files").Array() {
			files = append(files, parseFile(f))
		}
		pageToken = parsed.Get("nextPageToken").String()
		if pageToken == "" {
			return files, nil
		}
	}
}

// Get returns a single file by its resource name ("files/abc").
func (c *Client) Get(ctx context.Context, id string) (models.RemoteFile, error) {
	body, _, err := c.do(ctx, http.MethodGet, c.baseURL+"/v1beta/"+resourceName(id), nil, nil)
	if err != nil {
		return models.RemoteFile{}, fmt.Errorf("get %s: %w", id, err)
	}
	return parseFile(gjson.ParseBytes(body)), nil
}

// Delete removes a file by its resource name.
func (c *Client) Delete(ctx context.Context, file models.RemoteFile) error {
	if file.ID == "" {
		return fmt.Errorf("delete %s: remote id is required", file.DisplayName)
	}
	if _, _, err := c.do(ctx, http.MethodDelete, c.baseURL+"/v1beta/"+resourceName(file.ID), nil, nil); err != nil {
		return fmt.Errorf("delete %s: %w", file.DisplayName, err)
	}
	return nil
}

// Upload sends file with the resumable protocol: a start request that
// returns a session URL, then a single upload-and-finalize request.
// Every upload creates a new remote file, even for an existing display name.
func (c *Client) Upload(ctx context.Context, file models.LocalFile) (models.RemoteFile, error) {
	meta := fmt.Sprintf(`{"file":{"display_name":%s}}`, strconv.Quote(file.Name))
	_, header, err := c.do(ctx, http.MethodPost, c.baseURL+"/upload/v1beta/files", map[string]string{
		"Content-Type":                        "application/json",
		"X-Goog-Upload-Protocol":              "resumable",
		"X-Goog-Upload-Command":               "start",
		"X-Goog-Upload-Header-Content-Length": strconv.Itoa(len(file.Content)),
		"X-Goog-Upload-Header-Content-Type":   file.MimeType,
	}, []byte(meta))
	if err != nil {
		return models.RemoteFile{}, fmt.Errorf("start upload of %s: %w", file.Name, err)
	}
	sessionURL := header.Get("X-Goog-Upload-URL")
	if sessionURL == "" {
		return models.RemoteFile{}, fmt.Errorf("start upload of %s: response carried no upload url", file.Name)
	}

	body, _, err := c.do(ctx, http.MethodPost, sessionURL, map[string]string{
		"Content-Type":          file.MimeType,
		"X-Goog-Upload-Offset":  "0",
		"X-Goog-Upload-Command": "upload, finalize",
	}, file.Content)
	if err != nil {
		return models.RemoteFile{}, fmt.Errorf("upload %s: %w", file.Name, err)
	}
	uploaded := parseFile(gjson.GetBytes(body, "file"))
	if uploaded.ID == "" {
		return models.RemoteFile{}, fmt.Errorf("upload %s: response carried no file name", file.Name)
	}
	if uploaded.DisplayName == "" {
		uploaded.DisplayName = file.Name
	}
	return uploaded, nil
}

func (c *Client) do(ctx context.Context, method, rawURL string, headers map[string]string, body []byte) ([]byte, http.Header, error) {
	var reqBody interface{}
	if body != nil {
		reqBody = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("User-Agent", version.UserAgent())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, remote.Transient(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, remote.Transient(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &remote.StatusError{
			StatusCode: resp.StatusCode,
			Code:       gjson.GetBytes(payload, "error.status").String(),
			Message:    gjson.GetBytes(payload, "error.message").String(),
		}
	}
	return payload, resp.Header, nil
}

func parseFile(f gjson.Result) models.RemoteFile {
	return models.RemoteFile{
		ID:          f.Get("name").String(),
		DisplayName: f.Get("displayName").String(),
		MimeType:    f.Get("mimeType").String(),
		SizeBytes:   f.Get("sizeBytes").Int(),
		URI:         f.Get("uri").String(),
		CreatedAt:   parseTime(f.Get("createTime").String()),
		UpdatedAt:   parseTime(f.Get("updateTime").String()),
	}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func resourceName(id string) string {
	if strings.HasPrefix(id, "files/") {
		return id
	}
	return "files/" + id
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct {
	l *zap.Logger
}

func (z leveledLogger) fields(kv []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, zap.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}

func (z leveledLogger) Error(msg string, kv ...interface{}) { z.l.Error(msg, z.fields(kv)...) }
func (z leveledLogger) Info(msg string, kv ...interface{})  { z.l.Debug(msg, z.fields(kv)...) }
func (z leveledLogger) Debug(msg string, kv ...interface{}) { z.l.Debug(msg, z.fields(kv)...) }
func (z leveledLogger) Warn(msg string, kv ...interface{})  { z.l.Warn(msg, z.fields(kv)...) }
