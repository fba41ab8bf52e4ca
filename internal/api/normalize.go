package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// The backend has shipped both camelCase and PascalCase keys. encoding/json
// matches struct tags case-insensitively, so the wire types below accept
// either; this file is the only place that knows about alternative names
// and shapes.

// flexString accepts a JSON string, number or null.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = flexString(n.String())
	return nil
}

// flexInt accepts a JSON number, numeric string or null.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	s := strings.Trim(string(data), `"`)
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("expected number, got %s", data)
	}
	*f = flexInt(n)
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// listBody returns the array carried by data. Bare arrays are returned as
// is; objects are searched for the first array under one of keys. A null
// body yields an empty list.
func listBody(data []byte, keys ...string) (json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return json.RawMessage("[]"), nil
	}
	switch data[0] {
	case '[':
		return data, nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, err
		}
		for _, want := range keys {
			for k, v := range obj {
				v = bytes.TrimSpace(v)
				if strings.EqualFold(k, want) && len(v) > 0 && v[0] == '[' {
					return v, nil
				}
			}
		}
		return json.RawMessage("[]"), nil
	default:
		return nil, fmt.Errorf("unexpected list body %.32q", data)
	}
}

var listKeys = []string{"items", "data", "results", "value"}

func decodeList[W any, T any](data []byte, convert func(W) T, keys ...string) ([]T, error) {
	raw, err := listBody(data, append(keys, listKeys...)...)
	if err != nil {
		return nil, err
	}
	var wire []W
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}
	out := make([]T, 0, len(wire))
	for _, w := range wire {
		out = append(out, convert(w))
	}
	return out, nil
}

type wireSession struct {
	SessionID   flexString `json:"sessionId"`
	ID          flexString `json:"id"`
	SessionName string     `json:"sessionName"`
	Name        string     `json:"name"`
	ExamID      flexString `json:"examId"`
	ExamName    string     `json:"examName"`
	StartTime   string     `json:"startTime"`
	EndTime     string     `json:"endTime"`
	IsActive    bool       `json:"isActive"`
}

func (w wireSession) canonical() Session {
	return Session{
		SessionID:   firstNonEmpty(string(w.SessionID), string(w.ID)),
		SessionName: firstNonEmpty(w.SessionName, w.Name),
		ExamID:      string(w.ExamID),
		ExamName:    w.ExamName,
		StartTime:   w.StartTime,
		EndTime:     w.EndTime,
		IsActive:    w.IsActive,
	}
}

type wireRecord struct {
	SubmissionID     flexString `json:"submissionId"`
	ID               flexString `json:"id"`
	StudentID        flexString `json:"studentId"`
	StudentCode      flexString `json:"studentCode"`
	StudentName      string     `json:"studentName"`
	FileName         string     `json:"fileName"`
	OriginalFileName string     `json:"originalFileName"`
}

func (w wireRecord) canonical() SubmissionRecord {
	return SubmissionRecord{
		SubmissionID: firstNonEmpty(string(w.SubmissionID), string(w.ID)),
		StudentID:    firstNonEmpty(string(w.StudentID), string(w.StudentCode)),
		StudentName:  w.StudentName,
		FileName:     firstNonEmpty(w.FileName, w.OriginalFileName),
	}
}

type wireUploadResult struct {
	CreatedSubmissions []wireRecord `json:"createdSubmissions"`
	TotalFiles         flexInt      `json:"totalFiles"`
	ProcessedFiles     flexInt      `json:"processedFiles"`
}

func decodeUploadResult(data []byte) (*UploadResult, error) {
	var w wireUploadResult
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, err
		}
	}
	out := &UploadResult{
		CreatedSubmissions: make([]SubmissionRecord, 0, len(w.CreatedSubmissions)),
		TotalFiles:         int(w.TotalFiles),
		ProcessedFiles:     int(w.ProcessedFiles),
	}
	for _, r := range w.CreatedSubmissions {
		out.CreatedSubmissions = append(out.CreatedSubmissions, r.canonical())
	}
	return out, nil
}

type wireImage struct {
	ImageID   flexString `json:"imageId"`
	ID        flexString `json:"id"`
	ImageName string     `json:"imageName"`
	FileName  string     `json:"fileName"`
	ImageSize flexInt    `json:"imageSize"`
	Size      flexInt    `json:"size"`
	URL       string     `json:"url"`
	ImageURL  string     `json:"imageUrl"`
}

func (w wireImage) canonical() Image {
	size := int64(w.ImageSize)
	if size == 0 {
		size = int64(w.Size)
	}
	return Image{
		ImageID:   firstNonEmpty(string(w.ImageID), string(w.ID)),
		ImageName: firstNonEmpty(w.ImageName, w.FileName),
		ImageSize: size,
		URL:       firstNonEmpty(w.URL, w.ImageURL),
	}
}

// decodeText accepts {"text": ...}, {"content": ...} or a bare JSON string.
func decodeText(data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return "", nil
	}
	if data[0] == '"' {
		var s string
		err := json.Unmarshal(data, &s)
		return s, err
	}
	var w struct {
		Text          string `json:"text"`
		Content       string `json:"content"`
		ExtractedText string `json:"extractedText"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return "", err
	}
	return firstNonEmpty(w.Text, w.Content, w.ExtractedText), nil
}

type wireAssignedExam struct {
	ExamID                flexString `json:"examId"`
	ID                    flexString `json:"id"`
	ExamName              string     `json:"examName"`
	Name                  string     `json:"name"`
	SubjectName           string     `json:"subjectName"`
	SemesterName          string     `json:"semesterName"`
	TotalSubmissions      flexInt    `json:"totalSubmissions"`
	PendingSubmissions    flexInt    `json:"pendingSubmissions"`
	ProcessingSubmissions flexInt    `json:"processingSubmissions"`
	GradedSubmissions     flexInt    `json:"gradedSubmissions"`
	MyGradedSubmissions   flexInt    `json:"myGradedSubmissions"`
}

func (w wireAssignedExam) canonical() AssignedExam {
	return AssignedExam{
		ExamID:                firstNonEmpty(string(w.ExamID), string(w.ID)),
		ExamName:              firstNonEmpty(w.ExamName, w.Name),
		SubjectName:           w.SubjectName,
		SemesterName:          w.SemesterName,
		TotalSubmissions:      int(w.TotalSubmissions),
		PendingSubmissions:    int(w.PendingSubmissions),
		ProcessingSubmissions: int(w.ProcessingSubmissions),
		GradedSubmissions:     int(w.GradedSubmissions),
		MyGradedSubmissions:   int(w.MyGradedSubmissions),
	}
}

type wireExamSubmission struct {
	SubmissionID flexString `json:"submissionId"`
	ID           flexString `json:"id"`
	StudentID    flexString `json:"studentId"`
	StudentCode  flexString `json:"studentCode"`
	StudentName  string     `json:"studentName"`
	Status       string     `json:"status"`
	TotalScore   *float64   `json:"totalScore"`
	SubmittedAt  string     `json:"submittedAt"`
	CreatedAt    string     `json:"createdAt"`
}

func (w wireExamSubmission) canonical() ExamSubmission {
	return ExamSubmission{
		SubmissionID: firstNonEmpty(string(w.SubmissionID), string(w.ID)),
		StudentID:    firstNonEmpty(string(w.StudentID), string(w.StudentCode)),
		StudentName:  w.StudentName,
		Status:       w.Status,
		TotalScore:   w.TotalScore,
		SubmittedAt:  firstNonEmpty(w.SubmittedAt, w.CreatedAt),
	}
}

type wireAuth struct {
	Token        string          `json:"token"`
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
	ExpiresAt    flexString      `json:"expiresAt"`
	User         json.RawMessage `json:"user"`
}

func decodeAuth(data []byte) (*AuthResult, error) {
	var w wireAuth
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &AuthResult{
		AccessToken:  firstNonEmpty(w.AccessToken, w.Token),
		RefreshToken: w.RefreshToken,
		ExpiresAt:    string(w.ExpiresAt),
		User:         w.User,
	}, nil
}

// errorMessage extracts message, error or title from a JSON error body.
func errorMessage(data []byte) string {
	var w struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Title   string `json:"title"`
	}
	if json.Unmarshal(data, &w) != nil {
		return ""
	}
	return firstNonEmpty(w.Message, w.Error, w.Title)
}
