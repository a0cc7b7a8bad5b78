package director

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/keagan/slopstudio/internal/config"
	"github.com/rs/zerolog"
)

const maxErrorBody = 4 << 10

// Client is the director service contract
type Client interface {
	Upload(ctx context.Context, videoPath string) (Bootstrap, error)
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	Export(ctx context.Context, sessionID string) (ExportResponse, error)
}

// HTTPClient calls the director service over JSON HTTP
type HTTPClient struct {
	logger  zerolog.Logger
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a client for cfg. A nil client gets cfg.Timeout.
func NewHTTPClient(logger zerolog.Logger, cfg config.DirectorConfig, client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPClient{
		logger:  logger.With().Str("component", "director").Logger(),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  client,
	}
}

// Upload streams the video as multipart field "file" and returns the
// bootstrap payload
func (c *HTTPClient) Upload(ctx context.Context, videoPath string) (Bootstrap, error) {
	f, err := os.Open(videoPath)
	if err != nil {
		return Bootstrap{}, fmt.Errorf("open video: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(videoPath))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	c.logger.Info().Str("video", videoPath).Msg("uploading video")

	var out Bootstrap
	if err := c.do(ctx, "upload", "/upload", pr, mw.FormDataContentType(), nil, &out); err != nil {
		return Bootstrap{}, err
	}
	if out.SessionID == "" {
		return Bootstrap{}, fmt.Errorf("upload: response has no session_id")
	}

	c.logger.Info().
		Str("session", out.SessionID).
		Int("subtitles", len(out.Subtitles)).
		Msg("session bootstrapped")
	return out, nil
}

// Chat sends one prompt. The request ID and sequence number go out as
// X-Request-ID and X-Request-Seq.
func (c *HTTPClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("encode chat request: %w", err)
	}

	id := req.RequestID
	if id == "" {
		id = uuid.NewString()
	}
	headers := map[string]string{"X-Request-ID": id}
	if req.Seq > 0 {
		headers["X-Request-Seq"] = strconv.FormatUint(req.Seq, 10)
	}

	var out ChatResponse
	if err := c.do(ctx, "chat", "/chat", bytes.NewReader(body), "application/json", headers, &out); err != nil {
		return ChatResponse{}, err
	}
	return out, nil
}

// Export asks the service to render the session and returns the download URL
func (c *HTTPClient) Export(ctx context.Context, sessionID string) (ExportResponse, error) {
	body, err := json.Marshal(ExportRequest{SessionID: sessionID, Prompt: "export"})
	if err != nil {
		return ExportResponse{}, fmt.Errorf("encode export request: %w", err)
	}

	var out ExportResponse
	headers := map[string]string{"X-Request-ID": uuid.NewString()}
	if err := c.do(ctx, "export", "/export", bytes.NewReader(body), "application/json", headers, &out); err != nil {
		return ExportResponse{}, err
	}
	if out.DownloadURL == "" {
		return ExportResponse{}, fmt.Errorf("export: response has no download_url")
	}
	return out, nil
}

func (c *HTTPClient) do(ctx context.Context, op, path string, body io.Reader, contentType string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	c.logger.Debug().
		Str("op", op).
		Str("request_id", headers["X-Request-ID"]).
		Str("seq", headers["X-Request-Seq"]).
		Msg("director request")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}
