package api

import (
	"errors"
	"fmt"
)

// ErrUploadTimeout is returned when an upload outlives its deadline. It is
// distinct from *APIError and from transport failures so callers can hint
// that the archive may be too large.
var ErrUploadTimeout = errors.New("upload timeout: the file is too large or processing takes too long")

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return e.Message
}

// Default messages used when an error response carries none.
const (
	msgUploadFailed     = "Upload failed"
	msgFetchSessions    = "Failed to fetch sessions"
	msgFetchActive      = "Failed to fetch active sessions"
	msgFetchImages      = "Failed to fetch images"
	msgFetchStudents    = "Failed to fetch students"
	msgFetchText        = "Failed to fetch text"
	msgFetchExams       = "Failed to fetch assigned exams"
	msgFetchSubmissions = "Failed to fetch exam submissions"
	msgAuthFailed       = "Authentication request failed"
)
