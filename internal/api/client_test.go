package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token(context.Context) string { return string(s) }

func newTestClient(t *testing.T, h http.Handler, opts Options) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts.BaseURL = srv.URL + "/api"
	opts.Logger = zerolog.Nop()
	return New(opts)
}

func TestGetSessionStudentsNormalizesKeys(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/submissions/session/s-1/students", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[
			{"submissionId":"a","studentId":"SE001","studentName":"An","fileName":"a.zip"},
			{"SubmissionId":"b","StudentId":1234,"StudentName":"Binh","FileName":"b.zip"}
		]`)
	})
	c := newTestClient(t, mux, Options{})

	got, err := c.GetSessionStudents(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, []SubmissionRecord{
		{SubmissionID: "a", StudentID: "SE001", StudentName: "An", FileName: "a.zip"},
		{SubmissionID: "b", StudentID: "1234", StudentName: "Binh", FileName: "b.zip"},
	}, got)
}

func TestGetSessionsAcceptsWrappedList(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"Items":[{"id":"s-1","name":"Morning","IsActive":true}],"total":1}`)
	})
	mux.HandleFunc("/api/sessions/active", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `null`)
	})
	c := newTestClient(t, mux, Options{})

	got, err := c.GetSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Session{SessionID: "s-1", SessionName: "Morning", IsActive: true}, got[0])

	active, err := c.GetActiveSessions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestGetSubmissionText(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"camel", `{"text":"hello"}`, "hello"},
		{"pascal", `{"Text":"hello"}`, "hello"},
		{"bare string", `"hello"`, "hello"},
		{"empty object", `{}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/submissions/sub-1/text", r.URL.Path)
				io.WriteString(w, tt.body)
			}), Options{})
			got, err := c.GetSubmissionText(context.Background(), "sub-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetSubmissionImages(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"ImageId":"i1","ImageName":"p1.png","ImageSize":2048,"Url":"http://cdn/p1.png"}]`)
	}), Options{})

	got, err := c.GetSubmissionImages(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Equal(t, []Image{{ImageID: "i1", ImageName: "p1.png", ImageSize: 2048, URL: "http://cdn/p1.png"}}, got)
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		call   func(*Client) error
		want   string
	}{
		{
			name: "server message", status: http.StatusBadRequest, body: `{"message":"Session closed"}`,
			call: func(c *Client) error { _, err := c.GetSubmissionImages(context.Background(), "x"); return err },
			want: "Session closed",
		},
		{
			name: "images default", status: http.StatusInternalServerError, body: `oops`,
			call: func(c *Client) error { _, err := c.GetSubmissionImages(context.Background(), "x"); return err },
			want: "Failed to fetch images",
		},
		{
			name: "students default", status: http.StatusNotFound,
			call: func(c *Client) error { _, err := c.GetSessionStudents(context.Background(), "x"); return err },
			want: "Failed to fetch students",
		},
		{
			name: "grading falls back to status", status: http.StatusForbidden,
			call: func(c *Client) error { _, err := c.GetAssignedExams(context.Background()); return err },
			want: "403 Forbidden",
		},
		{
			name: "grading error field", status: http.StatusForbidden, body: `{"error":"not an examiner"}`,
			call: func(c *Client) error { _, err := c.GetAssignedExams(context.Background()); return err },
			want: "not an examiner",
		},
		{
			name: "upload default", status: http.StatusBadGateway, body: `<html>`,
			call: func(c *Client) error {
				_, err := c.UploadSubmission(context.Background(), "s", ArchiveFromBytes("a.zip", []byte("PK")))
				return err
			},
			want: "Upload failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.Copy(io.Discard, r.Body)
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}), Options{})

			err := tt.call(c)
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr), "got %v", err)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.want, apiErr.Error())
		})
	}
}

func TestGradingCarriesBearerToken(t *testing.T) {
	var mu sync.Mutex
	var auth []string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/grades/exams", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auth = append(auth, r.Header.Get("Authorization"))
		mu.Unlock()
		io.WriteString(w, `[{"examId":"e1","examName":"PRN231","totalSubmissions":"12","gradedSubmissions":4}]`)
	})
	mux.HandleFunc("/api/grades/exams/e1/submissions", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auth = append(auth, r.Header.Get("Authorization"))
		mu.Unlock()
		io.WriteString(w, `{"items":[{"submissionId":"s1","studentCode":"SE1","status":"Graded","totalScore":8.5}]}`)
	})
	c := newTestClient(t, mux, Options{Tokens: staticToken("jwt-1")})

	exams, err := c.GetAssignedExams(context.Background())
	require.NoError(t, err)
	require.Len(t, exams, 1)
	assert.Equal(t, "PRN231", exams[0].ExamName)
	assert.Equal(t, 12, exams[0].TotalSubmissions)
	assert.Equal(t, 4, exams[0].GradedSubmissions)

	subs, err := c.GetExamSubmissions(context.Background(), "e1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "SE1", subs[0].StudentID)
	require.NotNil(t, subs[0].TotalScore)
	assert.InDelta(t, 8.5, *subs[0].TotalScore, 1e-9)

	assert.Equal(t, []string{"Bearer jwt-1", "Bearer jwt-1"}, auth)
}

func TestLoginAndRefresh(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/identity/auth/login", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"username":"examiner","password":"pw"}`, string(body))
		io.WriteString(w, `{"token":"t1","refreshToken":"r1","expiresAt":"2030-01-01T00:00:00Z","user":{"username":"examiner"}}`)
	})
	mux.HandleFunc("/identity/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"refreshToken":"r1"}`, string(body))
		io.WriteString(w, `{"accessToken":"t2","refreshToken":"r2"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Options{
		BaseURL:         srv.URL + "/api",
		IdentityBaseURL: srv.URL + "/identity",
		Tokens:          staticToken("ignored"),
		Logger:          zerolog.Nop(),
	})

	res, err := c.Login(context.Background(), "examiner", "pw")
	require.NoError(t, err)
	assert.Equal(t, "t1", res.AccessToken)
	assert.Equal(t, "r1", res.RefreshToken)
	assert.Equal(t, "2030-01-01T00:00:00Z", res.ExpiresAt)
	assert.JSONEq(t, `{"username":"examiner"}`, string(res.User))

	res, err = c.Refresh(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "t2", res.AccessToken)
	assert.Equal(t, "r2", res.RefreshToken)
}

func TestLoginFailureMessage(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"message":"Invalid username or password"}`)
	}), Options{})

	_, err := c.Login(context.Background(), "x", "y")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "Invalid username or password", apiErr.Message)
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}), Options{FetchTimeout: 50 * time.Millisecond})
	defer close(release)

	_, err := c.GetSessions(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
