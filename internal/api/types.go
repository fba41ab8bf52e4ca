package api

import "encoding/json"

// Session is an exam session an archive can be uploaded to.
type Session struct {
	SessionID   string
	SessionName string
	ExamID      string
	ExamName    string
	StartTime   string
	EndTime     string
	IsActive    bool
}

// SubmissionRecord is one submission created by an upload.
type SubmissionRecord struct {
	SubmissionID string
	StudentID    string
	StudentName  string
	FileName     string
}

// UploadResult is the server's reply to an upload. A nested upload may
// create any number of records; a plain upload at most one.
type UploadResult struct {
	CreatedSubmissions []SubmissionRecord
	TotalFiles         int
	ProcessedFiles     int
}

// Image describes one image extracted from a submission.
type Image struct {
	ImageID   string
	ImageName string
	ImageSize int64
	URL       string
}

// AssignedExam is an exam the signed-in examiner grades.
type AssignedExam struct {
	ExamID                string
	ExamName              string
	SubjectName           string
	SemesterName          string
	TotalSubmissions      int
	PendingSubmissions    int
	ProcessingSubmissions int
	GradedSubmissions     int
	MyGradedSubmissions   int
}

// ExamSubmission is a submission as listed by the grading API.
type ExamSubmission struct {
	SubmissionID string
	StudentID    string
	StudentName  string
	Status       string
	TotalScore   *float64
	SubmittedAt  string
}

// AuthResult is returned by login and refresh.
type AuthResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    string
	User         json.RawMessage
}
