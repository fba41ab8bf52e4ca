package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Archive is a file to upload. Open is called once per upload.
type Archive struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// ArchiveFromFile describes the file at path without reading it.
func ArchiveFromFile(path string) (Archive, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Archive{}, err
	}
	if fi.IsDir() {
		return Archive{}, fmt.Errorf("%s is a directory", path)
	}
	return Archive{
		Name: filepath.Base(path),
		Size: fi.Size(),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// ArchiveFromBytes wraps an in-memory archive.
func ArchiveFromBytes(name string, data []byte) Archive {
	return Archive{
		Name: name,
		Size: int64(len(data)),
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

// UploadSubmission posts a single archive to /submissions/upload. The
// upload is bounded by the request timeout.
func (c *Client) UploadSubmission(ctx context.Context, sessionID string, a Archive) (*UploadResult, error) {
	return c.upload(ctx, "/submissions/upload", sessionID, a, c.requestTimeout)
}

// UploadNestedZip posts an archive of archives to
// /submissions/upload/nested-zip, bounded by the nested upload timeout.
func (c *Client) UploadNestedZip(ctx context.Context, sessionID string, a Archive) (*UploadResult, error) {
	return c.upload(ctx, "/submissions/upload/nested-zip", sessionID, a, c.nestedUploadTimeout)
}

// upload streams a multipart body with fields SessionId and Archive. An
// expired deadline yields ErrUploadTimeout.
func (c *Client) upload(ctx context.Context, path, sessionID string, a Archive, timeout time.Duration) (*UploadResult, error) {
	if a.Open == nil {
		return nil, errors.New("archive has no content")
	}
	src, err := a.Open()
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer src.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadBody(mw, sessionID, a.Name, src))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, pr)
	if err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	c.setAuth(req)

	c.log.Info().Str("path", path).Str("session", sessionID).Str("file", a.Name).Int64("size", a.Size).Msg("uploading archive")

	data, err := c.do(req, msgUploadFailed)
	// Unblock the writer if the request ended before draining the body.
	pr.CloseWithError(io.ErrClosedPipe)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.log.Warn().Str("path", path).Dur("timeout", timeout).Msg("upload timed out")
			return nil, ErrUploadTimeout
		}
		return nil, err
	}

	res, err := decodeUploadResult(data)
	if err != nil {
		return nil, fmt.Errorf("decode upload result: %w", err)
	}
	c.log.Info().
		Int("created", len(res.CreatedSubmissions)).
		Int("total_files", res.TotalFiles).
		Int("processed_files", res.ProcessedFiles).
		Msg("upload complete")
	return res, nil
}

func writeUploadBody(mw *multipart.Writer, sessionID, name string, src io.Reader) error {
	if err := mw.WriteField("SessionId", sessionID); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("Archive", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	return mw.Close()
}
