// Package submission drives the upload of an exam archive and the views
// derived from it: the session roster and the extracted images and text of
// the submission being viewed.
package submission

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/examdesk/examdesk/internal/api"
	"github.com/examdesk/examdesk/internal/logging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// API is the part of the REST client the workflow uses.
type API interface {
	GetSessionStudents(ctx context.Context, sessionID string) ([]api.SubmissionRecord, error)
	UploadSubmission(ctx context.Context, sessionID string, a api.Archive) (*api.UploadResult, error)
	UploadNestedZip(ctx context.Context, sessionID string, a api.Archive) (*api.UploadResult, error)
	GetSubmissionImages(ctx context.Context, submissionID string) ([]api.Image, error)
	GetSubmissionText(ctx context.Context, submissionID string) (string, error)
}

// State is a snapshot of the workflow.
type State struct {
	SelectedSessionID string
	// LastSubmissionID is the submission whose artifacts are on display.
	LastSubmissionID string
	Roster           []api.SubmissionRecord
	Images           []api.Image
	Text             string

	Uploading     bool
	LoadingRoster bool
	LoadingImages bool
	LoadingText   bool

	RosterErr error
	ImagesErr error
	TextErr   error
}

// Workflow is safe for concurrent use. Every roster, images and text fetch
// carries a generation; a completion is applied only while its generation
// is the latest for that artifact, so a slow stale response never replaces
// a newer one.
type Workflow struct {
	api     API
	log     zerolog.Logger
	maxSize int64

	mu        sync.Mutex
	state     State
	rosterGen uint64
	imagesGen uint64
	textGen   uint64
	listeners map[int]func(State)
	nextID    int
}

// New creates a workflow. maxArchiveSize <= 0 disables the size check.
func New(client API, maxArchiveSize int64, logger zerolog.Logger) *Workflow {
	return &Workflow{
		api:       client,
		log:       logging.Component(logger, "submission"),
		maxSize:   maxArchiveSize,
		listeners: make(map[int]func(State)),
	}
}

// ValidSessionID reports whether id is a GUID in canonical textual form,
// hex digits in either case.
func ValidSessionID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// ValidateArchive checks the archive's extension and size.
func (w *Workflow) ValidateArchive(a api.Archive) error {
	switch strings.ToLower(filepath.Ext(a.Name)) {
	case ".zip", ".rar":
	default:
		return fmt.Errorf("%w: %s", ErrInvalidArchive, a.Name)
	}
	if w.maxSize > 0 && a.Size > w.maxSize {
		return fmt.Errorf("%w: %d > %d bytes", ErrArchiveTooLarge, a.Size, w.maxSize)
	}
	return nil
}

// State returns a copy of the current state.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshot()
}

// OnChange registers fn to receive a snapshot after every state change.
func (w *Workflow) OnChange(fn func(State)) (unsubscribe func()) {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.listeners[id] = fn
	w.mu.Unlock()
	return func() {
		w.mu.Lock()
		delete(w.listeners, id)
		w.mu.Unlock()
	}
}

// HandleSessionChange selects sessionID. An invalid id clears the selection
// and dependent state and returns ErrInvalidSessionID without any request.
// A valid id clears the artifacts on display and loads the roster; a roster
// failure is logged and left in State.RosterErr.
func (w *Workflow) HandleSessionChange(ctx context.Context, sessionID string) error {
	if !ValidSessionID(sessionID) {
		w.log.Error().Str("session", sessionID).Msg("invalid session id")
		w.update(func(s *State) {
			w.rosterGen++
			w.imagesGen++
			w.textGen++
			*s = State{Uploading: s.Uploading}
		})
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}

	w.update(func(s *State) {
		s.SelectedSessionID = sessionID
		w.clearArtifacts(s)
	})

	if err := w.LoadSessionStudents(ctx, sessionID); err != nil {
		w.log.Warn().Err(err).Str("session", sessionID).Msg("load roster failed")
	}
	return nil
}

// LoadSessionStudents replaces the roster with the session's submissions.
// On failure the roster is emptied and the error returned.
func (w *Workflow) LoadSessionStudents(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		w.update(func(s *State) {
			w.rosterGen++
			s.Roster = nil
			s.LoadingRoster = false
		})
		return nil
	}
	if !ValidSessionID(sessionID) {
		w.log.Error().Str("session", sessionID).Msg("invalid session id for roster")
		w.update(func(s *State) {
			w.rosterGen++
			s.Roster = nil
			s.LoadingRoster = false
		})
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}

	var gen uint64
	w.update(func(s *State) {
		w.rosterGen++
		gen = w.rosterGen
		s.LoadingRoster = true
		s.RosterErr = nil
	})

	list, err := w.api.GetSessionStudents(ctx, sessionID)

	w.update(func(s *State) {
		if gen != w.rosterGen {
			return
		}
		s.LoadingRoster = false
		if err != nil {
			s.Roster = nil
			s.RosterErr = err
			return
		}
		s.Roster = list
	})
	if err != nil {
		return err
	}
	w.log.Debug().Str("session", sessionID).Int("students", len(list)).Msg("roster loaded")
	return nil
}

// RefreshSessionStudents reloads the roster of the selected session, if any.
func (w *Workflow) RefreshSessionStudents(ctx context.Context) error {
	sessionID := w.State().SelectedSessionID
	if sessionID == "" {
		return nil
	}
	return w.LoadSessionStudents(ctx, sessionID)
}

// HandleUpload uploads a to sessionID and sets the roster to the created
// records. After a plain upload the first record's images and text are
// fetched; a nested upload may create many records, so nothing is fetched
// and LastSubmissionID stays empty until one is picked. Upload errors are
// returned; Uploading is always cleared.
func (w *Workflow) HandleUpload(ctx context.Context, sessionID string, a api.Archive, nested bool) (*api.UploadResult, error) {
	if !ValidSessionID(sessionID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}
	if err := w.ValidateArchive(a); err != nil {
		return nil, err
	}

	w.update(func(s *State) { s.Uploading = true })
	defer w.update(func(s *State) { s.Uploading = false })

	upload := w.api.UploadSubmission
	if nested {
		upload = w.api.UploadNestedZip
	}
	res, err := upload(ctx, sessionID, a)
	if err != nil {
		w.log.Error().Err(err).Str("session", sessionID).Str("file", a.Name).Bool("nested", nested).Msg("upload failed")
		return nil, err
	}

	created := res.CreatedSubmissions
	fetch := !nested && len(created) > 0 && created[0].SubmissionID != ""
	w.update(func(s *State) {
		w.rosterGen++
		s.Roster = created
		s.LoadingRoster = false
		s.RosterErr = nil
		if !fetch {
			// The previous submission is not in the new roster.
			w.clearArtifacts(s)
		}
	})
	w.log.Info().Int("created", len(created)).Bool("nested", nested).Msg("upload processed")

	if !fetch {
		return res, nil
	}
	w.LoadArtifacts(ctx, created[0].SubmissionID)
	return res, nil
}

// LoadArtifacts fetches images and text for submissionID concurrently.
func (w *Workflow) LoadArtifacts(ctx context.Context, submissionID string) {
	var g errgroup.Group
	g.Go(func() error {
		w.LoadImagesForSubmission(ctx, submissionID)
		return nil
	})
	g.Go(func() error {
		w.LoadTextForSubmission(ctx, submissionID)
		return nil
	})
	_ = g.Wait()
}

// LoadImagesForSubmission fetches the images of submissionID. A failure
// empties the images only and is kept in State.ImagesErr.
func (w *Workflow) LoadImagesForSubmission(ctx context.Context, submissionID string) {
	var gen uint64
	w.update(func(s *State) {
		w.imagesGen++
		gen = w.imagesGen
		s.LoadingImages = true
	})

	images, err := w.api.GetSubmissionImages(ctx, submissionID)
	if err != nil {
		w.log.Warn().Err(err).Str("submission", submissionID).Msg("load images failed")
	}

	w.update(func(s *State) {
		if gen != w.imagesGen {
			return
		}
		s.LoadingImages = false
		if err != nil {
			s.Images = nil
			s.ImagesErr = err
			return
		}
		s.Images = images
		s.ImagesErr = nil
		s.LastSubmissionID = submissionID
	})
}

// LoadTextForSubmission fetches the extracted text of submissionID. A
// failure empties the text only and is kept in State.TextErr.
func (w *Workflow) LoadTextForSubmission(ctx context.Context, submissionID string) {
	var gen uint64
	w.update(func(s *State) {
		w.textGen++
		gen = w.textGen
		s.LoadingText = true
	})

	text, err := w.api.GetSubmissionText(ctx, submissionID)
	if err != nil {
		w.log.Warn().Err(err).Str("submission", submissionID).Msg("load text failed")
	}

	w.update(func(s *State) {
		if gen != w.textGen {
			return
		}
		s.LoadingText = false
		if err != nil {
			s.Text = ""
			s.TextErr = err
			return
		}
		s.Text = text
		s.TextErr = nil
		s.LastSubmissionID = submissionID
	})
}

// FilterRoster returns the roster entries whose student id, name or file
// name contains query, ignoring case. An empty query returns the roster.
func (w *Workflow) FilterRoster(query string) []api.SubmissionRecord {
	roster := w.State().Roster
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return roster
	}
	out := make([]api.SubmissionRecord, 0, len(roster))
	for _, r := range roster {
		if strings.Contains(strings.ToLower(r.StudentID), q) ||
			strings.Contains(strings.ToLower(r.StudentName), q) ||
			strings.Contains(strings.ToLower(r.FileName), q) {
			out = append(out, r)
		}
	}
	return out
}

// SelectedRecord returns the roster entry on display.
func (w *Workflow) SelectedRecord() (api.SubmissionRecord, bool) {
	st := w.State()
	if st.LastSubmissionID == "" {
		return api.SubmissionRecord{}, false
	}
	for _, r := range st.Roster {
		if r.SubmissionID == st.LastSubmissionID {
			return r, true
		}
	}
	return api.SubmissionRecord{}, false
}

// clearArtifacts drops the submission on display and invalidates image and
// text fetches still in flight. Callers hold w.mu.
func (w *Workflow) clearArtifacts(s *State) {
	w.imagesGen++
	w.textGen++
	s.LastSubmissionID = ""
	s.Images = nil
	s.ImagesErr = nil
	s.LoadingImages = false
	s.Text = ""
	s.TextErr = nil
	s.LoadingText = false
}

// update applies fn under the lock and notifies listeners with the result.
func (w *Workflow) update(fn func(s *State)) {
	w.mu.Lock()
	fn(&w.state)
	snap := w.snapshot()
	ls := make([]func(State), 0, len(w.listeners))
	for _, l := range w.listeners {
		ls = append(ls, l)
	}
	w.mu.Unlock()

	for _, l := range ls {
		l(snap)
	}
}

func (w *Workflow) snapshot() State {
	s := w.state
	s.Roster = append([]api.SubmissionRecord(nil), w.state.Roster...)
	s.Images = append([]api.Image(nil), w.state.Images...)
	return s
}
