// Package app is the root Bubble Tea model: session picker, roster,
// extracted artifacts, upload form and the live notification tray.
package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/examdesk/examdesk/internal/api"
	"github.com/examdesk/examdesk/internal/hub"
	"github.com/examdesk/examdesk/internal/logging"
	"github.com/examdesk/examdesk/internal/notify"
	"github.com/examdesk/examdesk/internal/submission"
	"github.com/examdesk/examdesk/internal/theme"
	"github.com/examdesk/examdesk/internal/views/artifacts"
	"github.com/examdesk/examdesk/internal/views/debug"
	"github.com/examdesk/examdesk/internal/views/exams"
	"github.com/examdesk/examdesk/internal/views/roster"
	"github.com/examdesk/examdesk/internal/views/sessions"
	"github.com/examdesk/examdesk/internal/views/status"
	"github.com/examdesk/examdesk/internal/views/tray"
	"github.com/examdesk/examdesk/internal/views/upload"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Pane identifies the focused pane.
type Pane int

const (
	PaneSessions Pane = iota
	PaneRoster
	PaneArtifacts
	PaneTray
	paneCount
)

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayUpload
	OverlayDebug
	OverlayExams
)

// Notifier is the notification router as the UI uses it.
type Notifier interface {
	Apply(ctx context.Context, cfg notify.Config)
	Close(ctx context.Context)
	Status() hub.Status
	LastError() error
	Reconnect(ctx context.Context) error
	OnStatusChange(fn func(hub.Status)) (unsubscribe func())
}

// SessionLister loads the session picker.
type SessionLister interface {
	GetSessions(ctx context.Context) ([]api.Session, error)
	GetActiveSessions(ctx context.Context) ([]api.Session, error)
}

// Grading lists the examiner's assigned exams and their submissions.
type Grading interface {
	GetAssignedExams(ctx context.Context) ([]api.AssignedExam, error)
	GetExamSubmissions(ctx context.Context, examID string) ([]api.ExamSubmission, error)
}

// Identity names the signed-in user.
type Identity interface {
	Username() string
}

// Deps wires the model to the running services. Identity, Grading and Logs
// may be nil.
type Deps struct {
	Workflow *submission.Workflow
	Notifier Notifier
	Feed     *notify.Feed
	Sessions SessionLister
	Identity Identity
	Grading  Grading
	Logs     debug.Source
	// RefreshInterval is the minimum spacing of roster refreshes triggered
	// by upload events.
	RefreshInterval time.Duration
	// MarkdownStyle is the glamour style for extracted text.
	MarkdownStyle string
	Logger        zerolog.Logger
}

// lifecycle is shared by every copy of the model.
type lifecycle struct {
	cancel context.CancelFunc
	unsubs []func()
	closed bool

	// applyMu runs notifier configs one at a time; applySeq names the
	// newest so a superseded config is skipped.
	applyMu  sync.Mutex
	applySeq atomic.Uint64
}

// Model is the root Bubble Tea model.
type Model struct {
	deps Deps
	log  zerolog.Logger
	ctx  context.Context
	life *lifecycle
	in   *inbox

	keys    KeyMap
	width   int
	height  int
	focus   Pane
	overlay Overlay

	state   submission.State
	examID  string
	viewing string
	flash   string

	limiter        *rate.Limiter
	refreshPending bool
	logTicking     bool

	statusBar status.Model
	sessions  sessions.Model
	roster    roster.Model
	artifacts artifacts.Model
	upload    upload.Model
	tray      tray.Model
	debug     debug.Model
	exams     exams.Model
}

// New creates the root model and subscribes it to workflow and hub changes.
// Call Close when the program exits.
func New(deps Deps) Model {
	ctx, cancel := context.WithCancel(context.Background())
	interval := deps.RefreshInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	m := Model{
		deps:      deps,
		log:       logging.Component(deps.Logger, "ui"),
		ctx:       ctx,
		life:      &lifecycle{cancel: cancel},
		in:        newInbox(256),
		keys:      DefaultKeyMap(),
		limiter:   rate.NewLimiter(rate.Every(interval), 1),
		statusBar: status.New(),
		sessions:  sessions.New(),
		roster:    roster.New(),
		artifacts: artifacts.New(deps.MarkdownStyle),
		upload:    upload.New(),
		tray:      tray.New(),
		debug:     debug.New(),
		exams:     exams.New(),
	}
	if deps.Identity != nil {
		m.statusBar.User = deps.Identity.Username()
	}
	m.setFocus(PaneSessions)

	in := m.in
	m.life.unsubs = append(m.life.unsubs,
		deps.Workflow.OnChange(func(submission.State) { in.post(stateChangedMsg{}) }),
		deps.Notifier.OnStatusChange(func(hub.Status) { in.post(statusMsg{}) }),
	)
	m.syncStatus()
	m.syncState()
	return m
}

// Close detaches from the hub and workflow and cancels background work.
// The shared hub itself is left for the caller to stop.
func (m Model) Close() {
	if m.life.closed {
		return
	}
	m.life.closed = true
	for _, fn := range m.life.unsubs {
		fn()
	}
	// Cancel first so an Apply still dialing gives up the router.
	m.life.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m.deps.Notifier.Close(ctx)
}

// Init loads sessions, starts the notification feed and begins reading the
// inbox.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadSessions(), m.apply(""), m.in.wait(m.ctx))
}

// notifyConfig subscribes every known event to the feed, the exam topic of
// the selected session and the manager broadcast.
func (m Model) notifyConfig(examID string) notify.Config {
	feed, in := m.deps.Feed, m.in
	handler := func(ev notify.Event) error {
		feed.Add(ev)
		in.post(pushMsg{ev: ev})
		return nil
	}
	handlers := make(map[notify.EventType]notify.Handler, len(notify.KnownEvents))
	for _, ev := range notify.KnownEvents {
		handlers[ev] = handler
	}
	return notify.Config{
		Enabled:               true,
		Handlers:              handlers,
		ExamID:                examID,
		AutoSubscribeManagers: true,
	}
}

func (m Model) apply(examID string) tea.Cmd {
	cfg := m.notifyConfig(examID)
	n, ctx, life := m.deps.Notifier, m.ctx, m.life
	seq := life.applySeq.Add(1)
	return func() tea.Msg {
		life.applyMu.Lock()
		defer life.applyMu.Unlock()
		if life.applySeq.Load() != seq {
			return applyDoneMsg{}
		}
		n.Apply(ctx, cfg)
		return applyDoneMsg{}
	}
}

func (m Model) loadSessions() tea.Cmd {
	lister, ctx := m.deps.Sessions, m.ctx
	load := lister.GetSessions
	if m.sessions.ActiveOnly {
		load = lister.GetActiveSessions
	}
	return func() tea.Msg {
		list, err := load(ctx)
		return sessionsMsg{list: list, err: err}
	}
}

func (m Model) loadExams() tea.Cmd {
	g, ctx := m.deps.Grading, m.ctx
	return func() tea.Msg {
		list, err := g.GetAssignedExams(ctx)
		return examsMsg{list: list, err: err}
	}
}

func (m Model) loadExamSubmissions(examID string) tea.Cmd {
	g, ctx := m.deps.Grading, m.ctx
	return func() tea.Msg {
		list, err := g.GetExamSubmissions(ctx, examID)
		return examSubmissionsMsg{examID: examID, list: list, err: err}
	}
}

func (m Model) refreshRoster() tea.Cmd {
	wf, ctx := m.deps.Workflow, m.ctx
	return func() tea.Msg {
		return opDoneMsg{op: "refresh", err: wf.RefreshSessionStudents(ctx)}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.artifacts.SetSize(msg.Width, m.artifactsHeight())
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case inboxMsg:
		var cmd tea.Cmd
		m, cmd = m.handleInbox(msg.inner)
		return m, tea.Batch(cmd, m.in.wait(m.ctx))

	case sessionsMsg:
		if msg.err != nil {
			m.sessions.Loading = false
			m.sessions.Err = msg.err
			m.log.Warn().Err(msg.err).Msg("load sessions failed")
			return m, nil
		}
		m.sessions.Err = nil
		m.sessions.SetSessions(msg.list)
		m.syncState()
		return m, nil

	case examsMsg:
		if msg.err != nil {
			m.log.Warn().Err(msg.err).Msg("load assigned exams failed")
		}
		m.exams.SetExams(msg.list, msg.err)
		return m, nil

	case examSubmissionsMsg:
		if msg.err != nil {
			m.log.Warn().Err(msg.err).Str("exam", msg.examID).Msg("load exam submissions failed")
		}
		m.exams.SetSubmissions(msg.examID, msg.list, msg.err)
		return m, nil

	case uploadDoneMsg:
		m.upload.Finish(msg.res, msg.err)
		if msg.err == nil {
			m.overlay = OverlayNone
			m.flash = m.upload.Result
			m.viewing = ""
			if msg.res != nil && len(msg.res.CreatedSubmissions) > 0 {
				m.focus = PaneRoster
			}
		}
		m.syncState()
		return m, nil

	case opDoneMsg:
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.flash = msg.err.Error()
		}
		m.syncState()
		return m, nil

	case applyDoneMsg:
		m.syncStatus()
		return m, nil

	case refreshDueMsg:
		m.refreshPending = false
		return m, m.refreshRoster()

	case logTickMsg:
		if m.overlay != OverlayDebug {
			m.logTicking = false
			return m, nil
		}
		m.debug.Sync(m.deps.Logs)
		return m, logTick()

	case tray.FrameMsg:
		return m, m.tray.Update(msg)

	case spinner.TickMsg:
		return m, m.upload.Update(msg)
	}

	return m, nil
}

func (m Model) handleInbox(msg tea.Msg) (Model, tea.Cmd) {
	m.syncState()
	m.syncStatus()

	ev, ok := msg.(pushMsg)
	if !ok {
		return m, nil
	}
	m.tray.Items = m.deps.Feed.Items()
	cmd := m.tray.Flash()
	if up, ok := ev.ev.(notify.SubmissionUploaded); ok {
		var refresh tea.Cmd
		m, refresh = m.onUploaded(up)
		cmd = tea.Batch(cmd, refresh)
	}
	return m, cmd
}

// onUploaded refreshes the roster when an upload lands in the selected
// session. Refreshes are spaced by the limiter; events arriving while one
// is scheduled fold into it.
func (m Model) onUploaded(ev notify.SubmissionUploaded) (Model, tea.Cmd) {
	sel := m.state.SelectedSessionID
	if sel == "" || !strings.EqualFold(ev.SessionID, sel) || m.refreshPending {
		return m, nil
	}
	r := m.limiter.Reserve()
	d := r.Delay()
	if d == 0 {
		return m, m.refreshRoster()
	}
	m.refreshPending = true
	return m, tea.Tick(d, func(time.Time) tea.Msg { return refreshDueMsg{} })
}

func logTick() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg { return logTickMsg{} })
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		m.life.cancel()
		return m, tea.Quit
	}

	switch m.overlay {
	case OverlayUpload:
		return m.handleUploadKey(msg)
	case OverlayDebug:
		switch {
		case key.Matches(msg, m.keys.Escape), key.Matches(msg, m.keys.Debug):
			m.overlay = OverlayNone
		case key.Matches(msg, m.keys.Up):
			m.debug.ScrollUp(1)
		case key.Matches(msg, m.keys.Down):
			m.debug.ScrollDown(1)
		case key.Matches(msg, m.keys.PageUp):
			m.debug.ScrollUp(10)
		case key.Matches(msg, m.keys.PageDown):
			m.debug.ScrollDown(10)
		}
		return m, nil
	case OverlayExams:
		return m.handleExamsKey(msg)
	}

	if m.roster.Searching() {
		switch {
		case key.Matches(msg, m.keys.Escape):
			m.roster.ClearSearch()
		case msg.Type == tea.KeyEnter:
			m.roster.StopSearch()
		default:
			cmd := m.roster.UpdateSearch(msg)
			m.syncState()
			return m, cmd
		}
		m.syncState()
		return m, nil
	}

	m.flash = ""
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.life.cancel()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Tab):
		m.setFocus((m.focus + 1) % paneCount)
		return m, nil

	case key.Matches(msg, m.keys.ShiftTab):
		m.setFocus((m.focus + paneCount - 1) % paneCount)
		return m, nil

	case key.Matches(msg, m.keys.Upload):
		m.overlay = OverlayUpload
		return m, m.upload.Open()

	case key.Matches(msg, m.keys.Search):
		m.setFocus(PaneRoster)
		return m, m.roster.StartSearch()

	case key.Matches(msg, m.keys.Refresh):
		if m.focus == PaneSessions || m.state.SelectedSessionID == "" {
			m.sessions.Loading = true
			m.sessions.Err = nil
			return m, m.loadSessions()
		}
		return m, m.refreshRoster()

	case key.Matches(msg, m.keys.Reconnect):
		n, ctx := m.deps.Notifier, m.ctx
		return m, func() tea.Msg {
			if err := n.Reconnect(ctx); err != nil {
				return opDoneMsg{op: "reconnect", err: err}
			}
			return applyDoneMsg{}
		}

	case key.Matches(msg, m.keys.ClearTray):
		m.deps.Feed.Clear()
		m.tray.Items = nil
		return m, nil

	case key.Matches(msg, m.keys.ToggleTab):
		m.artifacts.Toggle()
		return m, nil

	case key.Matches(msg, m.keys.Debug):
		m.overlay = OverlayDebug
		m.debug.Sync(m.deps.Logs)
		if m.logTicking {
			return m, nil
		}
		m.logTicking = true
		return m, logTick()

	case key.Matches(msg, m.keys.Exams):
		if m.deps.Grading == nil {
			m.flash = "Grading is not available"
			return m, nil
		}
		m.overlay = OverlayExams
		m.exams.Back()
		m.exams.Loading = true
		return m, m.loadExams()

	case key.Matches(msg, m.keys.ActiveOnly):
		m.sessions.ActiveOnly = !m.sessions.ActiveOnly
		m.sessions.Loading = true
		m.sessions.Err = nil
		return m, m.loadSessions()

	case key.Matches(msg, m.keys.Up):
		return m.move(-1, msg)

	case key.Matches(msg, m.keys.Down):
		return m.move(1, msg)

	case key.Matches(msg, m.keys.PageUp), key.Matches(msg, m.keys.PageDown):
		return m, m.artifacts.Update(msg)

	case key.Matches(msg, m.keys.Enter):
		return m.enter()
	}

	return m, nil
}

func (m Model) handleExamsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Escape), key.Matches(msg, m.keys.Exams):
		if !m.exams.Back() {
			m.overlay = OverlayNone
		}
	case key.Matches(msg, m.keys.Up):
		m.exams.Up()
	case key.Matches(msg, m.keys.Down):
		m.exams.Down()
	case key.Matches(msg, m.keys.Refresh):
		if id := m.exams.OpenExamID; id != "" {
			m.exams.Open(id)
			return m, m.loadExamSubmissions(id)
		}
		m.exams.Loading = true
		return m, m.loadExams()
	case key.Matches(msg, m.keys.Enter):
		e, ok := m.exams.Highlighted()
		if !ok || m.exams.OpenExamID != "" {
			return m, nil
		}
		m.exams.Open(e.ExamID)
		return m, m.loadExamSubmissions(e.ExamID)
	}
	return m, nil
}

func (m Model) handleUploadKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Escape):
		if !m.upload.Uploading {
			m.upload.Close()
			m.overlay = OverlayNone
		}
		return m, nil
	case key.Matches(msg, m.keys.NestedMode):
		m.upload.ToggleMode()
		return m, nil
	case msg.Type == tea.KeyEnter:
		if m.upload.Uploading {
			return m, nil
		}
		return m.submitUpload()
	}
	return m, m.upload.Update(msg)
}

// submitUpload checks the form and starts the upload in the background.
func (m Model) submitUpload() (tea.Model, tea.Cmd) {
	sessionID := m.state.SelectedSessionID
	if sessionID == "" {
		m.upload.Err = errors.New("please select a session first")
		return m, nil
	}
	path := m.upload.Path()
	if path == "" {
		m.upload.Err = errors.New("please select a file to upload")
		return m, nil
	}
	a, err := api.ArchiveFromFile(path)
	if err != nil {
		m.upload.Err = err
		return m, nil
	}
	if err := m.deps.Workflow.ValidateArchive(a); err != nil {
		m.upload.Err = err
		return m, nil
	}

	nested := m.upload.Nested
	wf, ctx := m.deps.Workflow, m.ctx
	m.log.Info().Str("session", sessionID).Str("file", a.Name).Bool("nested", nested).Msg("upload started")
	return m, tea.Batch(m.upload.Begin(), func() tea.Msg {
		res, err := wf.HandleUpload(ctx, sessionID, a, nested)
		return uploadDoneMsg{res: res, err: err}
	})
}

func (m *Model) setFocus(p Pane) {
	m.focus = p
	m.sessions.Focused = p == PaneSessions
	m.roster.Focused = p == PaneRoster
	m.artifacts.Focused = p == PaneArtifacts
	m.tray.Focused = p == PaneTray
}

func (m Model) move(delta int, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.focus {
	case PaneSessions:
		if delta < 0 {
			m.sessions.Up()
		} else {
			m.sessions.Down()
		}
	case PaneRoster:
		if delta < 0 {
			m.roster.Up()
		} else {
			m.roster.Down()
		}
	case PaneArtifacts:
		return m, m.artifacts.Update(msg)
	}
	return m, nil
}

func (m Model) enter() (tea.Model, tea.Cmd) {
	switch m.focus {
	case PaneSessions:
		s, ok := m.sessions.Highlighted()
		if !ok {
			return m, nil
		}
		return m.selectSession(s)
	case PaneRoster:
		r, ok := m.roster.Selected()
		if !ok || r.SubmissionID == "" {
			return m, nil
		}
		m.viewing = r.SubmissionID
		m.setFocus(PaneArtifacts)
		wf, ctx, id := m.deps.Workflow, m.ctx, r.SubmissionID
		return m, func() tea.Msg {
			wf.LoadArtifacts(ctx, id)
			return nil
		}
	case PaneArtifacts:
		m.artifacts.Toggle()
	}
	return m, nil
}

// selectSession binds the workflow to s and moves the exam subscription
// when the exam changes.
func (m Model) selectSession(s api.Session) (tea.Model, tea.Cmd) {
	m.sessions.SelectedID = s.SessionID
	m.roster.ClearSearch()
	m.viewing = ""
	m.refreshPending = false
	m.setFocus(PaneRoster)

	wf, ctx, id := m.deps.Workflow, m.ctx, s.SessionID
	cmds := []tea.Cmd{func() tea.Msg {
		return opDoneMsg{op: "session", err: wf.HandleSessionChange(ctx, id)}
	}}
	if s.ExamID != m.examID {
		m.examID = s.ExamID
		cmds = append(cmds, m.apply(s.ExamID))
	}
	m.statusBar.Session = sessions.DisplayName(s)
	return m, tea.Batch(cmds...)
}

// syncState copies the workflow snapshot into the views.
func (m *Model) syncState() {
	st := m.deps.Workflow.State()
	m.state = st

	m.roster.Loading = st.LoadingRoster
	m.roster.Err = st.RosterErr
	m.roster.Active = st.LastSubmissionID
	m.roster.SetRecords(m.deps.Workflow.FilterRoster(m.roster.Query()))

	m.artifacts.SubmissionID = st.LastSubmissionID
	if m.artifacts.SubmissionID == "" {
		m.artifacts.SubmissionID = m.viewing
	}
	m.artifacts.Student = ""
	if r, ok := m.deps.Workflow.SelectedRecord(); ok {
		m.artifacts.Student = artifacts.StudentLabel(r)
	}
	m.artifacts.Images = st.Images
	m.artifacts.LoadingImages = st.LoadingImages
	m.artifacts.ImagesErr = st.ImagesErr
	m.artifacts.LoadingText = st.LoadingText
	m.artifacts.TextErr = st.TextErr
	m.artifacts.SetText(st.Text)

	if st.SelectedSessionID != "" {
		m.sessions.SelectedID = st.SelectedSessionID
		if s, ok := m.sessions.Selected(); ok {
			m.statusBar.Session = sessions.DisplayName(s)
		}
	}
}

func (m *Model) syncStatus() {
	s := m.deps.Notifier.Status()
	m.statusBar.Status = s
	m.statusBar.LastErr = m.deps.Notifier.LastError()
	m.tray.Status = s
}

func (m Model) artifactsHeight() int {
	return max(m.height-m.topHeight()-trayHeight-4, 8)
}

func (m Model) topHeight() int {
	return max(m.height/3, 8)
}

const trayHeight = 8

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	switch m.overlay {
	case OverlayDebug:
		return lipgloss.JoinVertical(lipgloss.Left, m.statusBar.View(), m.debug.View(m.width, m.height-3))
	case OverlayExams:
		return lipgloss.JoinVertical(lipgloss.Left, m.statusBar.View(), m.exams.View(m.width, m.height-3))
	}

	left := m.width / 3
	top := lipgloss.JoinHorizontal(lipgloss.Top,
		m.sessions.View(left, m.topHeight()),
		m.roster.View(m.width-left, m.topHeight()),
	)

	middle := m.artifacts.View(m.width, m.artifactsHeight())
	if m.overlay == OverlayUpload {
		name := ""
		if s, ok := m.sessions.Selected(); ok {
			name = sessions.DisplayName(s)
		}
		middle = m.upload.View(m.width, name)
	}

	sections := []string{m.statusBar.View(), top, middle, m.tray.View(m.width, trayHeight)}
	if m.flash != "" {
		sections = append(sections, theme.StyleDimmed.Render("  "+m.flash))
	}
	sections = append(sections, theme.StyleDimmed.Render(
		"  tab:pane  enter:select  u:upload  /:search  t:images/text  r:refresh  a:active  e:grading  c:reconnect  x:clear  d:debug  q:quit"))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
