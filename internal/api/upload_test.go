package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadSubmissionMultipart(t *testing.T) {
	var gotSession, gotName, gotBody, gotPath string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		gotSession = r.FormValue("SessionId")
		f, hdr, err := r.FormFile("Archive")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		gotName, gotBody = hdr.Filename, string(b)
		io.WriteString(w, `{"createdSubmissions":[{"submissionId":"sub-1","studentId":"SE1","fileName":"a.zip"}],"totalFiles":1,"processedFiles":1}`)
	}), Options{})

	res, err := c.UploadSubmission(context.Background(), "11111111-1111-1111-1111-111111111111", ArchiveFromBytes("a.zip", []byte("PK-data")))
	require.NoError(t, err)

	assert.Equal(t, "/api/submissions/upload", gotPath)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", gotSession)
	assert.Equal(t, "a.zip", gotName)
	assert.Equal(t, "PK-data", gotBody)
	assert.Equal(t, &UploadResult{
		CreatedSubmissions: []SubmissionRecord{{SubmissionID: "sub-1", StudentID: "SE1", FileName: "a.zip"}},
		TotalFiles:         1,
		ProcessedFiles:     1,
	}, res)
}

func TestUploadNestedZipPascalCase(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/submissions/upload/nested-zip", r.URL.Path)
		io.Copy(io.Discard, r.Body)
		io.WriteString(w, `{"CreatedSubmissions":[{"SubmissionId":"a"},{"SubmissionId":"b"}],"TotalFiles":3,"ProcessedFiles":2}`)
	}), Options{})

	res, err := c.UploadNestedZip(context.Background(), "s", ArchiveFromBytes("all.zip", []byte("PK")))
	require.NoError(t, err)
	require.Len(t, res.CreatedSubmissions, 2)
	assert.Equal(t, "b", res.CreatedSubmissions[1].SubmissionID)
	assert.Equal(t, 3, res.TotalFiles)
	assert.Equal(t, 2, res.ProcessedFiles)
}

func TestUploadZeroCreatedIsNotAnError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		io.WriteString(w, `{"totalFiles":0}`)
	}), Options{})

	res, err := c.UploadNestedZip(context.Background(), "s", ArchiveFromBytes("empty.zip", nil))
	require.NoError(t, err)
	assert.NotNil(t, res.CreatedSubmissions)
	assert.Empty(t, res.CreatedSubmissions)
}

func TestNestedUploadTimeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}), Options{NestedUploadTimeout: 50 * time.Millisecond})
	defer close(release)

	_, err := c.UploadNestedZip(context.Background(), "s", ArchiveFromBytes("big.zip", []byte("PK")))
	require.ErrorIs(t, err, ErrUploadTimeout)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}

func TestPlainUploadUsesRequestTimeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}), Options{RequestTimeout: 50 * time.Millisecond, NestedUploadTimeout: time.Hour})
	defer close(release)

	_, err := c.UploadSubmission(context.Background(), "s", ArchiveFromBytes("a.zip", []byte("PK")))
	assert.ErrorIs(t, err, ErrUploadTimeout)
}

func TestArchiveFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub.rar")
	require.NoError(t, os.WriteFile(path, []byte("Rar!"), 0o600))

	a, err := ArchiveFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sub.rar", a.Name)
	assert.Equal(t, int64(4), a.Size)

	rc, err := a.Open()
	require.NoError(t, err)
	b, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "Rar!", string(b))

	_, err = ArchiveFromFile(dir)
	assert.Error(t, err)
	_, err = ArchiveFromFile(filepath.Join(dir, "missing.zip"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
