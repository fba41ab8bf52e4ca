package mockserver

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

var violationKinds = []struct{ kind, details string }{
	{"Plagiarism", "Similarity above 80% with another submission"},
	{"ForbiddenKeyword", "Source contains a blocked keyword"},
	{"InvalidStructure", "Solution layout does not match the template"},
}

var mockStudents = []string{"SE150101", "SE150102", "SE150103", "SE150104", "SE150105", "SE150106"}

// Generator periodically produces hub traffic from the fixture: new
// uploads, grades, violations and generic notifications, in rotation.
type Generator struct {
	fixture  *Fixture
	hub      *Hub
	interval time.Duration
	rng      *rand.Rand
	log      zerolog.Logger
	tick     int
}

func NewGenerator(f *Fixture, h *Hub, interval time.Duration, logger zerolog.Logger) *Generator {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Generator{
		fixture:  f,
		hub:      h,
		interval: interval,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		log:      logger,
	}
}

// Start runs the generator until ctx is done.
func (g *Generator) Start(ctx context.Context) {
	go g.run(ctx)
}

func (g *Generator) run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Step()
		}
	}
}

// Step emits one event and returns its name. Grades and violations need an
// existing submission; without one an upload is generated instead.
func (g *Generator) Step() string {
	g.tick++
	switch g.tick % 4 {
	case 2:
		if sub, ok := g.fixture.Pick(g.rng, func(s Submission) bool { return s.Status != "Graded" }); ok {
			score := float64(g.rng.Intn(21)) / 2
			graded, _ := g.fixture.Grade(sub.SubmissionID, score)
			n := g.hub.PublishGraded(graded, "examiner01")
			g.log.Debug().Str("submission", sub.SubmissionID).Int("clients", n).Msg("mock grade")
			return EventSubmissionGraded
		}
	case 3:
		if sub, ok := g.fixture.Pick(g.rng, nil); ok {
			v := violationKinds[g.rng.Intn(len(violationKinds))]
			n := g.hub.PublishViolation(sub, v.kind, v.details)
			g.log.Debug().Str("submission", sub.SubmissionID).Int("clients", n).Msg("mock violation")
			return EventViolationDetected
		}
	case 0:
		n := g.hub.PublishNotification("ExamPublished", "Schedule update",
			fmt.Sprintf("Grading window closes at %s", time.Now().Add(2*time.Hour).Format("15:04")))
		g.log.Debug().Int("clients", n).Msg("mock notification")
		return EventNotification
	}

	active := g.fixture.ActiveSessions()
	if len(active) == 0 {
		return ""
	}
	session := active[g.rng.Intn(len(active))]
	student := mockStudents[g.rng.Intn(len(mockStudents))]
	sub := g.fixture.AddSubmission(session, student+".zip")
	n := g.hub.PublishUploaded(sub)
	g.log.Debug().Str("session", session.SessionID).Str("student", student).Int("clients", n).Msg("mock upload")
	return EventSubmissionUploaded
}
