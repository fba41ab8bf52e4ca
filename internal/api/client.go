// Package api is the REST client for the exam backend: sessions, uploads,
// extracted artifacts, grading lists and identity.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/examdesk/examdesk/internal/logging"
	"github.com/rs/zerolog"
)

// TokenProvider supplies the bearer token for authenticated calls. An
// empty string means no token.
type TokenProvider interface {
	Token(ctx context.Context) string
}

// Options configures a Client. Zero timeouts select the defaults.
type Options struct {
	BaseURL             string // {host}/api
	GradingBaseURL      string // defaults to BaseURL
	IdentityBaseURL     string // defaults to BaseURL
	HTTPClient          *http.Client
	Tokens              TokenProvider
	FetchTimeout        time.Duration
	RequestTimeout      time.Duration
	NestedUploadTimeout time.Duration
	Logger              zerolog.Logger
}

const (
	DefaultFetchTimeout        = 30 * time.Second
	DefaultRequestTimeout      = 10 * time.Minute
	DefaultNestedUploadTimeout = 30 * time.Minute

	maxErrorBody = 64 << 10
)

// Client makes REST calls to the exam backend. It is safe for concurrent use.
type Client struct {
	baseURL     string
	gradingURL  string
	identityURL string
	client      *http.Client
	log         zerolog.Logger

	mu     sync.RWMutex
	tokens TokenProvider

	fetchTimeout        time.Duration
	requestTimeout      time.Duration
	nestedUploadTimeout time.Duration
}

// New creates a client. Uploads are bounded by per-call deadlines, so the
// default http.Client has no overall timeout.
func New(opts Options) *Client {
	c := &Client{
		baseURL:             strings.TrimRight(opts.BaseURL, "/"),
		gradingURL:          strings.TrimRight(opts.GradingBaseURL, "/"),
		identityURL:         strings.TrimRight(opts.IdentityBaseURL, "/"),
		client:              opts.HTTPClient,
		tokens:              opts.Tokens,
		log:                 logging.Component(opts.Logger, "api"),
		fetchTimeout:        opts.FetchTimeout,
		requestTimeout:      opts.RequestTimeout,
		nestedUploadTimeout: opts.NestedUploadTimeout,
	}
	if c.gradingURL == "" {
		c.gradingURL = c.baseURL
	}
	if c.identityURL == "" {
		c.identityURL = c.baseURL
	}
	if c.client == nil {
		c.client = &http.Client{}
	}
	if c.fetchTimeout <= 0 {
		c.fetchTimeout = DefaultFetchTimeout
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = DefaultRequestTimeout
	}
	if c.nestedUploadTimeout <= 0 {
		c.nestedUploadTimeout = DefaultNestedUploadTimeout
	}
	return c
}

// SetTokenProvider replaces the bearer token source.
func (c *Client) SetTokenProvider(p TokenProvider) {
	c.mu.Lock()
	c.tokens = p
	c.mu.Unlock()
}

// GetSessions fetches GET /sessions.
func (c *Client) GetSessions(ctx context.Context) ([]Session, error) {
	data, err := c.get(ctx, c.baseURL+"/sessions", msgFetchSessions)
	if err != nil {
		return nil, err
	}
	return decodeList(data, wireSession.canonical, "sessions")
}

// GetActiveSessions fetches GET /sessions/active.
func (c *Client) GetActiveSessions(ctx context.Context) ([]Session, error) {
	data, err := c.get(ctx, c.baseURL+"/sessions/active", msgFetchActive)
	if err != nil {
		return nil, err
	}
	return decodeList(data, wireSession.canonical, "sessions")
}

// GetSessionStudents fetches GET /submissions/session/{sessionId}/students.
func (c *Client) GetSessionStudents(ctx context.Context, sessionID string) ([]SubmissionRecord, error) {
	data, err := c.get(ctx, c.baseURL+"/submissions/session/"+url.PathEscape(sessionID)+"/students", msgFetchStudents)
	if err != nil {
		return nil, err
	}
	return decodeList(data, wireRecord.canonical, "students", "submissions")
}

// GetSubmissionImages fetches GET /submissions/{submissionId}/images.
func (c *Client) GetSubmissionImages(ctx context.Context, submissionID string) ([]Image, error) {
	data, err := c.get(ctx, c.baseURL+"/submissions/"+url.PathEscape(submissionID)+"/images", msgFetchImages)
	if err != nil {
		return nil, err
	}
	return decodeList(data, wireImage.canonical, "images")
}

// GetSubmissionText fetches GET /submissions/{submissionId}/text.
func (c *Client) GetSubmissionText(ctx context.Context, submissionID string) (string, error) {
	data, err := c.get(ctx, c.baseURL+"/submissions/"+url.PathEscape(submissionID)+"/text", msgFetchText)
	if err != nil {
		return "", err
	}
	return decodeText(data)
}

// GetAssignedExams fetches GET {grading}/grades/exams. It carries the
// bearer token when one is available.
func (c *Client) GetAssignedExams(ctx context.Context) ([]AssignedExam, error) {
	data, err := c.get(ctx, c.gradingURL+"/grades/exams", "")
	if err != nil {
		return nil, err
	}
	return decodeList(data, wireAssignedExam.canonical, "exams")
}

// GetExamSubmissions fetches GET {grading}/grades/exams/{examId}/submissions.
func (c *Client) GetExamSubmissions(ctx context.Context, examID string) ([]ExamSubmission, error) {
	data, err := c.get(ctx, c.gradingURL+"/grades/exams/"+url.PathEscape(examID)+"/submissions", "")
	if err != nil {
		return nil, err
	}
	return decodeList(data, wireExamSubmission.canonical, "submissions")
}

// Login posts credentials to {identity}/auth/login.
func (c *Client) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	body := map[string]string{"username": username, "password": password}
	data, err := c.post(ctx, c.identityURL+"/auth/login", body, msgAuthFailed)
	if err != nil {
		return nil, err
	}
	return decodeAuth(data)
}

// Refresh exchanges a refresh token at {identity}/auth/refresh.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	body := map[string]string{"refreshToken": refreshToken}
	data, err := c.post(ctx, c.identityURL+"/auth/refresh", body, msgAuthFailed)
	if err != nil {
		return nil, err
	}
	return decodeAuth(data)
}

func (c *Client) get(ctx context.Context, endpoint, failMsg string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	c.setAuth(req)
	return c.do(req, failMsg)
}

// post sends an unauthenticated JSON request; only identity calls use it.
func (c *Client) post(ctx context.Context, endpoint string, body any, failMsg string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req, failMsg)
}

// do sends req and returns the body of a 2xx response. Anything else
// becomes an *APIError.
func (c *Client) do(req *http.Request, failMsg string) ([]byte, error) {
	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, readAPIError(resp, failMsg)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", req.Method, req.URL.Path, err)
	}
	return data, nil
}

func (c *Client) setAuth(req *http.Request) {
	c.mu.RLock()
	p := c.tokens
	c.mu.RUnlock()
	if p == nil {
		return
	}
	if tok := p.Token(req.Context()); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
}

// readAPIError builds an *APIError from resp. The body's message wins;
// otherwise failMsg, or the status line when failMsg is empty.
func readAPIError(resp *http.Response, failMsg string) *APIError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := errorMessage(data)
	if msg == "" {
		msg = failMsg
	}
	if msg == "" {
		msg = strings.TrimSpace(fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)))
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
