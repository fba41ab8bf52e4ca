package mockserver

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Session struct {
	SessionID   string `json:"sessionId"`
	SessionName string `json:"sessionName"`
	ExamID      string `json:"examId"`
	ExamName    string `json:"examName"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	IsActive    bool   `json:"isActive"`
}

type Exam struct {
	ExamID       string `json:"examId"`
	ExamName     string `json:"examName"`
	SubjectName  string `json:"subjectName"`
	SemesterName string `json:"semesterName"`
}

type Image struct {
	ImageID   string `json:"imageId"`
	ImageName string `json:"imageName"`
	ImageSize int64  `json:"imageSize"`
	URL       string `json:"url"`
}

type Submission struct {
	SubmissionID string   `json:"submissionId"`
	SessionID    string   `json:"sessionId"`
	ExamID       string   `json:"examId"`
	StudentID    string   `json:"studentId"`
	StudentName  string   `json:"studentName"`
	FileName     string   `json:"fileName"`
	Status       string   `json:"status"`
	TotalScore   *float64 `json:"totalScore"`
	SubmittedAt  string   `json:"submittedAt"`

	images []Image
	text   string
}

// Seeded identifiers.
const (
	SessionSlot1 = "11111111-1111-1111-1111-111111111111"
	SessionSlot2 = "33333333-3333-3333-3333-333333333333"
	SessionFinal = "44444444-4444-4444-4444-444444444444"

	ExamPRN = "aaaaaaaa-0000-0000-0000-000000000001"
	ExamSWD = "aaaaaaaa-0000-0000-0000-000000000002"
)

var studentNames = []string{
	"Nguyen Van An", "Tran Thi Binh", "Le Hoang Cuong", "Pham Minh Duc",
	"Vo Thi Em", "Dang Quoc Huy", "Bui Thanh Lam", "Do Ngoc Mai",
}

// Fixture is the mock backend's in-memory data. It is safe for concurrent use.
type Fixture struct {
	mu          sync.RWMutex
	sessions    []Session
	exams       []Exam
	submissions map[string]*Submission
	order       []string

	now   func() time.Time
	newID func() string
}

// NewFixture returns a fixture seeded with three sessions over two exams
// and no submissions.
func NewFixture() *Fixture {
	day := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	slot := func(h int) string { return day.Add(time.Duration(h) * time.Hour).Format(time.RFC3339) }
	return &Fixture{
		exams: []Exam{
			{ExamID: ExamPRN, ExamName: "PRN231 Practical Exam", SubjectName: "PRN231", SemesterName: "SU26"},
			{ExamID: ExamSWD, ExamName: "SWD392 Final", SubjectName: "SWD392", SemesterName: "SU26"},
		},
		sessions: []Session{
			{SessionID: SessionSlot1, SessionName: "PRN231 - Slot 1", ExamID: ExamPRN, ExamName: "PRN231 Practical Exam",
				StartTime: slot(7), EndTime: slot(9), IsActive: true},
			{SessionID: SessionSlot2, SessionName: "PRN231 - Slot 2", ExamID: ExamPRN, ExamName: "PRN231 Practical Exam",
				StartTime: slot(9), EndTime: slot(11), IsActive: true},
			{SessionID: SessionFinal, SessionName: "SWD392 - Final", ExamID: ExamSWD, ExamName: "SWD392 Final",
				StartTime: slot(13), EndTime: slot(15), IsActive: false},
		},
		submissions: make(map[string]*Submission),
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

func (f *Fixture) Sessions() []Session {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Session(nil), f.sessions...)
}

func (f *Fixture) ActiveSessions() []Session {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := []Session{}
	for _, s := range f.sessions {
		if s.IsActive {
			out = append(out, s)
		}
	}
	return out
}

func (f *Fixture) Session(id string) (Session, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.sessions {
		if strings.EqualFold(s.SessionID, id) {
			return s, true
		}
	}
	return Session{}, false
}

// AddSubmission creates a submission for the archive fileName in session.
// The student code is the file name without extension.
func (f *Fixture) AddSubmission(session Session, fileName string) Submission {
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	code := strings.ToUpper(strings.TrimSuffix(base, path.Ext(base)))
	if code == "" {
		code = "UNKNOWN"
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.newID()
	sub := &Submission{
		SubmissionID: id,
		SessionID:    session.SessionID,
		ExamID:       session.ExamID,
		StudentID:    code,
		StudentName:  studentNames[hashOf(code)%uint32(len(studentNames))],
		FileName:     base,
		Status:       "Pending",
		SubmittedAt:  f.now().UTC().Format(time.RFC3339),
	}
	pages := 1 + int(hashOf(id)%3)
	for i := 1; i <= pages; i++ {
		sub.images = append(sub.images, Image{
			ImageID:   f.newID(),
			ImageName: fmt.Sprintf("%s_page%d.png", code, i),
			ImageSize: int64(40_000 + hashOf(fmt.Sprint(id, i))%200_000),
			URL:       fmt.Sprintf("/files/%s/page%d.png", id, i),
		})
	}
	sub.text = fmt.Sprintf("# %s\n\n%s\n\n```csharp\npublic class Program\n{\n    public static void Main() => Console.WriteLine(\"%s\");\n}\n```\n",
		code, sub.StudentName, code)

	f.submissions[id] = sub
	f.order = append(f.order, id)
	return *sub
}

// Roster returns the session's submissions in creation order.
func (f *Fixture) Roster(sessionID string) []Submission {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := []Submission{}
	for _, id := range f.order {
		if s := f.submissions[id]; strings.EqualFold(s.SessionID, sessionID) {
			out = append(out, *s)
		}
	}
	return out
}

func (f *Fixture) Submission(id string) (Submission, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.submissions[id]
	if !ok {
		return Submission{}, false
	}
	return *s, true
}

func (f *Fixture) Images(id string) ([]Image, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.submissions[id]
	if !ok {
		return nil, false
	}
	return append([]Image{}, s.images...), true
}

func (f *Fixture) Text(id string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.submissions[id]
	if !ok {
		return "", false
	}
	return s.text, true
}

// Grade records score on the submission.
func (f *Fixture) Grade(id string, score float64) (Submission, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.submissions[id]
	if !ok {
		return Submission{}, false
	}
	s.Status = "Graded"
	s.TotalScore = &score
	return *s, true
}

// Pick returns a random submission matching keep.
func (f *Fixture) Pick(rng *rand.Rand, keep func(Submission) bool) (Submission, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var cands []*Submission
	for _, id := range f.order {
		if s := f.submissions[id]; keep == nil || keep(*s) {
			cands = append(cands, s)
		}
	}
	if len(cands) == 0 {
		return Submission{}, false
	}
	return *cands[rng.Intn(len(cands))], true
}

type AssignedExam struct {
	Exam
	TotalSubmissions      int `json:"totalSubmissions"`
	PendingSubmissions    int `json:"pendingSubmissions"`
	ProcessingSubmissions int `json:"processingSubmissions"`
	GradedSubmissions     int `json:"gradedSubmissions"`
	MyGradedSubmissions   int `json:"myGradedSubmissions"`
}

// AssignedExams returns every exam with its submission counts.
func (f *Fixture) AssignedExams() []AssignedExam {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]AssignedExam, 0, len(f.exams))
	for _, e := range f.exams {
		a := AssignedExam{Exam: e}
		for _, s := range f.submissions {
			if s.ExamID != e.ExamID {
				continue
			}
			a.TotalSubmissions++
			switch s.Status {
			case "Graded":
				a.GradedSubmissions++
				a.MyGradedSubmissions++
			case "Processing":
				a.ProcessingSubmissions++
			default:
				a.PendingSubmissions++
			}
		}
		out = append(out, a)
	}
	return out
}

// ExamSubmissions returns the exam's submissions, oldest first.
func (f *Fixture) ExamSubmissions(examID string) ([]Submission, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	found := false
	for _, e := range f.exams {
		if strings.EqualFold(e.ExamID, examID) {
			found = true
		}
	}
	if !found {
		return nil, false
	}
	out := []Submission{}
	for _, id := range f.order {
		if s := f.submissions[id]; strings.EqualFold(s.ExamID, examID) {
			out = append(out, *s)
		}
	}
	return out, true
}

func hashOf(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}
