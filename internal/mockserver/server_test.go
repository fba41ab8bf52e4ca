package mockserver

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/examdesk/examdesk/internal/api"
	"github.com/examdesk/examdesk/internal/hub"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

func startServer(t *testing.T, opts Options) (*Server, *httptest.Server, *api.Client) {
	t.Helper()
	opts.Logger = zerolog.Nop()
	s := New(opts)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	c := api.New(api.Options{BaseURL: srv.URL + "/api", Logger: zerolog.Nop()})
	return s, srv, c
}

func nestedZip(t *testing.T, names ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, n := range names {
		w, err := zw.Create(n)
		require.NoError(t, err)
		w.Write([]byte("inner"))
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestSessions(t *testing.T) {
	_, _, c := startServer(t, Options{})
	ctx := context.Background()

	all, err := c.GetSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	active, err := c.GetActiveSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)
	for _, s := range active {
		assert.True(t, s.IsActive)
	}
}

func TestPlainUploadRoundTrip(t *testing.T) {
	_, _, c := startServer(t, Options{})
	ctx := context.Background()

	res, err := c.UploadSubmission(ctx, SessionSlot1, api.ArchiveFromBytes("se150001.zip", []byte("PK")))
	require.NoError(t, err)
	require.Len(t, res.CreatedSubmissions, 1)
	rec := res.CreatedSubmissions[0]
	assert.Equal(t, "SE150001", rec.StudentID)
	assert.NotEmpty(t, rec.StudentName)

	roster, err := c.GetSessionStudents(ctx, SessionSlot1)
	require.NoError(t, err)
	assert.Equal(t, []api.SubmissionRecord{rec}, roster)

	images, err := c.GetSubmissionImages(ctx, rec.SubmissionID)
	require.NoError(t, err)
	assert.NotEmpty(t, images)

	text, err := c.GetSubmissionText(ctx, rec.SubmissionID)
	require.NoError(t, err)
	assert.Contains(t, text, "SE150001")
}

func TestNestedUploadCreatesOnePerInnerArchive(t *testing.T) {
	_, _, c := startServer(t, Options{})

	body := nestedZip(t, "batch/SE1.zip", "batch/SE2.rar", "batch/readme.txt", "SE3.ZIP")
	res, err := c.UploadNestedZip(context.Background(), SessionSlot2, api.ArchiveFromBytes("batch.zip", body))
	require.NoError(t, err)

	require.Len(t, res.CreatedSubmissions, 3)
	var codes []string
	for _, r := range res.CreatedSubmissions {
		codes = append(codes, r.StudentID)
	}
	assert.Equal(t, []string{"SE1", "SE2", "SE3"}, codes)
	assert.Equal(t, 3, res.ProcessedFiles)
}

func TestNestedUploadWithoutInnerArchives(t *testing.T) {
	_, _, c := startServer(t, Options{})

	res, err := c.UploadNestedZip(context.Background(), SessionSlot1, api.ArchiveFromBytes("empty.zip", nestedZip(t, "notes.txt")))
	require.NoError(t, err)
	assert.Empty(t, res.CreatedSubmissions)
}

func TestUploadErrors(t *testing.T) {
	_, _, c := startServer(t, Options{})
	ctx := context.Background()

	_, err := c.UploadSubmission(ctx, "99999999-9999-9999-9999-999999999999", api.ArchiveFromBytes("a.zip", []byte("PK")))
	var apiErr *api.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Session not found", apiErr.Message)

	_, err = c.UploadNestedZip(ctx, SessionSlot1, api.ArchiveFromBytes("broken.zip", []byte("not a zip")))
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Archive is not a valid zip file", apiErr.Message)

	_, err = c.GetSubmissionImages(ctx, "missing")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.Status)
}

func TestUploadDelayTimesOut(t *testing.T) {
	_, srv, _ := startServer(t, Options{UploadDelay: time.Second})
	c := api.New(api.Options{BaseURL: srv.URL + "/api", NestedUploadTimeout: 50 * time.Millisecond, Logger: zerolog.Nop()})

	_, err := c.UploadNestedZip(context.Background(), SessionSlot1, api.ArchiveFromBytes("a.zip", nestedZip(t, "x.zip")))
	assert.ErrorIs(t, err, api.ErrUploadTimeout)
}

type tokenFunc func() string

func (f tokenFunc) Token(context.Context) string { return f() }

func TestGradingRequiresToken(t *testing.T) {
	s, srv, c := startServer(t, Options{RequireAuth: true, Password: "secret"})
	ctx := context.Background()
	s.Fixture().AddSubmission(Session{SessionID: SessionSlot1, ExamID: ExamPRN}, "SE9.zip")

	_, err := c.GetAssignedExams(ctx)
	var apiErr *api.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.Status)
	assert.Equal(t, "Authorization header required", apiErr.Message)

	_, err = c.Login(ctx, "examiner", "wrong")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Invalid username or password", apiErr.Message)

	login, err := c.Login(ctx, "examiner", "secret")
	require.NoError(t, err)
	require.NotEmpty(t, login.AccessToken)

	authed := api.New(api.Options{
		BaseURL: srv.URL + "/api",
		Tokens:  tokenFunc(func() string { return login.AccessToken }),
		Logger:  zerolog.Nop(),
	})
	exams, err := authed.GetAssignedExams(ctx)
	require.NoError(t, err)
	require.Len(t, exams, 2)
	assert.Equal(t, 1, exams[0].TotalSubmissions)
	assert.Equal(t, 1, exams[0].PendingSubmissions)

	subs, err := authed.GetExamSubmissions(ctx, ExamPRN)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "SE9", subs[0].StudentID)

	refreshed, err := c.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)

	_, err = c.Refresh(ctx, login.RefreshToken)
	assert.ErrorAs(t, err, &apiErr, "refresh tokens are single use")
}

func TestHubDeliversUploadToExamSubscribers(t *testing.T) {
	s, srv, c := startServer(t, Options{})

	hc := hub.New(hub.Options{URL: srv.URL + HubPath, Transport: &hub.WebSocketTransport{}, Logger: zerolog.Nop()})
	defer hc.Stop()
	hc.SetAccessTokenProvider(hub.TokenFunc(func(context.Context) string { return "dev" }))

	got := make(chan json.RawMessage, 4)
	hc.On(EventSubmissionUploaded, func(_ string, p json.RawMessage) error {
		got <- p
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, hc.Start(ctx))
	require.NoError(t, hc.Invoke(ctx, hub.MethodSubscribeToExam, ExamPRN))
	require.Eventually(t, func() bool { return s.Hub().GroupSize(GroupExam(ExamPRN)) == 1 }, time.Second, 5*time.Millisecond)

	_, err := c.UploadSubmission(ctx, SessionSlot1, api.ArchiveFromBytes("SE42.zip", []byte("PK")))
	require.NoError(t, err)

	select {
	case p := <-got:
		var ev struct {
			SessionID string `json:"sessionId"`
			StudentID string `json:"studentId"`
		}
		require.NoError(t, json.Unmarshal(p, &ev))
		assert.Equal(t, SessionSlot1, ev.SessionID)
		assert.Equal(t, "SE42", ev.StudentID)
	case <-time.After(2 * time.Second):
		t.Fatal("upload event not delivered")
	}

	// The final session belongs to another exam.
	_, err = c.UploadSubmission(ctx, SessionFinal, api.ArchiveFromBytes("SE43.zip", []byte("PK")))
	require.NoError(t, err)
	select {
	case <-got:
		t.Fatal("event for an unsubscribed exam delivered")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubRejectsMissingToken(t *testing.T) {
	_, srv, _ := startServer(t, Options{RequireAuth: true})

	_, err := (&hub.WebSocketTransport{}).Open(context.Background(), srv.URL+HubPath, "bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestHubUnknownMethodFails(t *testing.T) {
	_, srv, _ := startServer(t, Options{})

	hc := hub.New(hub.Options{URL: srv.URL + HubPath, Transport: &hub.WebSocketTransport{}, Logger: zerolog.Nop()})
	defer hc.Stop()
	hc.SetAccessTokenProvider(hub.TokenFunc(func(context.Context) string { return "dev" }))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, hc.Start(ctx))
	err := hc.Invoke(ctx, "DropTables")
	require.Error(t, err)
	assert.ErrorIs(t, err, hub.ErrInvocation)
}
