// Package notify layers declarative, per-consumer event subscriptions over
// the shared hub client and turns raw pushes into typed events.
package notify

import (
	"encoding/json"
	"strings"
)

// EventType is a server push name.
type EventType string

const (
	EventSubmissionUploaded EventType = "SubmissionUploaded"
	EventSubmissionGraded   EventType = "SubmissionGraded"
	EventViolationDetected  EventType = "ViolationDetected"
	EventNotification       EventType = "Notification"
)

// KnownEvents lists the pushes the backend is known to send.
var KnownEvents = []EventType{
	EventSubmissionUploaded,
	EventSubmissionGraded,
	EventViolationDetected,
	EventNotification,
}

// Envelope carries the fields every push may have plus the raw payload.
type Envelope struct {
	Message   string          `json:"message"`
	Timestamp string          `json:"timestamp"`
	Raw       json.RawMessage `json:"-"`
}

// Event is one decoded push. The set of implementations is closed:
// SubmissionUploaded, SubmissionGraded, ViolationDetected, Notification
// and Unknown.
type Event interface {
	Type() EventType
	// Label names the event in the notification feed.
	Label() string
	Envelope() Envelope
	isEvent()
}

type SubmissionUploaded struct {
	Env          Envelope `json:"-"`
	SessionID    string   `json:"sessionId"`
	ExamID       string   `json:"examId"`
	SubmissionID string   `json:"submissionId"`
	StudentID    string   `json:"studentId"`
	StudentName  string   `json:"studentName"`
	FileName     string   `json:"fileName"`
}

type SubmissionGraded struct {
	Env          Envelope `json:"-"`
	ExamID       string   `json:"examId"`
	SubmissionID string   `json:"submissionId"`
	StudentID    string   `json:"studentId"`
	Score        *float64 `json:"score"`
	GradedBy     string   `json:"gradedBy"`
}

type ViolationDetected struct {
	Env           Envelope `json:"-"`
	ExamID        string   `json:"examId"`
	SubmissionID  string   `json:"submissionId"`
	StudentID     string   `json:"studentId"`
	ViolationType string   `json:"violationType"`
	Details       string   `json:"details"`
}

// Notification is the generic push. Its label comes from the payload's
// eventType when present.
type Notification struct {
	Env       Envelope `json:"-"`
	EventType string   `json:"eventType"`
	Title     string   `json:"title"`
}

// Unknown is any push whose name is not in KnownEvents.
type Unknown struct {
	Env  Envelope
	Name string
}

func (e SubmissionUploaded) Type() EventType { return EventSubmissionUploaded }
func (e SubmissionGraded) Type() EventType   { return EventSubmissionGraded }
func (e ViolationDetected) Type() EventType  { return EventViolationDetected }
func (e Notification) Type() EventType       { return EventNotification }
func (e Unknown) Type() EventType            { return EventType(e.Name) }

func (e SubmissionUploaded) Label() string { return string(EventSubmissionUploaded) }
func (e SubmissionGraded) Label() string   { return string(EventSubmissionGraded) }
func (e ViolationDetected) Label() string  { return string(EventViolationDetected) }
func (e Unknown) Label() string            { return e.Name }

func (e Notification) Label() string {
	if e.EventType != "" {
		return e.EventType
	}
	return string(EventNotification)
}

func (e SubmissionUploaded) Envelope() Envelope { return e.Env }
func (e SubmissionGraded) Envelope() Envelope   { return e.Env }
func (e ViolationDetected) Envelope() Envelope  { return e.Env }
func (e Notification) Envelope() Envelope       { return e.Env }
func (e Unknown) Envelope() Envelope            { return e.Env }

func (SubmissionUploaded) isEvent() {}
func (SubmissionGraded) isEvent()   {}
func (ViolationDetected) isEvent()  {}
func (Notification) isEvent()       {}
func (Unknown) isEvent()            {}

// Decode turns a push into its typed event. Names match case-insensitively;
// unrecognised names yield Unknown. A payload that is not an object still
// produces the typed event with only Raw set.
func Decode(name string, payload json.RawMessage) Event {
	env := Envelope{Raw: payload}
	if len(payload) > 0 {
		// Field type mismatches leave that field empty.
		_ = json.Unmarshal(payload, &env)
		env.Raw = payload
	}

	switch {
	case strings.EqualFold(name, string(EventSubmissionUploaded)):
		e := SubmissionUploaded{Env: env}
		unmarshalLoose(payload, &e)
		return e
	case strings.EqualFold(name, string(EventSubmissionGraded)):
		e := SubmissionGraded{Env: env}
		unmarshalLoose(payload, &e)
		return e
	case strings.EqualFold(name, string(EventViolationDetected)):
		e := ViolationDetected{Env: env}
		unmarshalLoose(payload, &e)
		return e
	case strings.EqualFold(name, string(EventNotification)):
		e := Notification{Env: env}
		unmarshalLoose(payload, &e)
		return e
	default:
		return Unknown{Env: env, Name: name}
	}
}

func unmarshalLoose(payload json.RawMessage, v any) {
	if len(payload) == 0 {
		return
	}
	_ = json.Unmarshal(payload, v)
}
