package mockserver

import (
	"fmt"
	"time"
)

// Push names sent by the hub.
const (
	EventSubmissionUploaded = "SubmissionUploaded"
	EventSubmissionGraded   = "SubmissionGraded"
	EventViolationDetected  = "ViolationDetected"
	EventNotification       = "Notification"
)

func stamp() string { return time.Now().UTC().Format(time.RFC3339) }

// PublishUploaded announces sub to its exam and to managers.
func (h *Hub) PublishUploaded(sub Submission) int {
	return h.Broadcast(EventSubmissionUploaded, map[string]any{
		"message":      fmt.Sprintf("%s uploaded %s", sub.StudentID, sub.FileName),
		"timestamp":    stamp(),
		"sessionId":    sub.SessionID,
		"examId":       sub.ExamID,
		"submissionId": sub.SubmissionID,
		"studentId":    sub.StudentID,
		"studentName":  sub.StudentName,
		"fileName":     sub.FileName,
	}, GroupExam(sub.ExamID), GroupManagers)
}

// PublishGraded announces a grade to the exam and to examiners.
func (h *Hub) PublishGraded(sub Submission, gradedBy string) int {
	score := 0.0
	if sub.TotalScore != nil {
		score = *sub.TotalScore
	}
	return h.Broadcast(EventSubmissionGraded, map[string]any{
		"message":      fmt.Sprintf("%s graded %.1f", sub.StudentID, score),
		"timestamp":    stamp(),
		"examId":       sub.ExamID,
		"submissionId": sub.SubmissionID,
		"studentId":    sub.StudentID,
		"score":        score,
		"gradedBy":     gradedBy,
	}, GroupExam(sub.ExamID), GroupExaminers)
}

// PublishViolation reports a violation to the exam and to moderators.
func (h *Hub) PublishViolation(sub Submission, kind, details string) int {
	return h.Broadcast(EventViolationDetected, map[string]any{
		"message":       fmt.Sprintf("%s: %s", sub.StudentID, kind),
		"timestamp":     stamp(),
		"examId":        sub.ExamID,
		"submissionId":  sub.SubmissionID,
		"studentId":     sub.StudentID,
		"violationType": kind,
		"details":       details,
	}, GroupExam(sub.ExamID), GroupModerators)
}

// PublishNotification sends a generic notification to every client.
func (h *Hub) PublishNotification(eventType, title, message string) int {
	return h.Broadcast(EventNotification, map[string]any{
		"eventType": eventType,
		"title":     title,
		"message":   message,
		"timestamp": stamp(),
	})
}
