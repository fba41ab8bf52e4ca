// Package mockserver is a development backend: the REST API and the
// notification hub the client talks to, served from an in-memory fixture.
// It fabricates data and never grades anything.
package mockserver

import (
	"archive/zip"
	"crypto/rand"
	"errors"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/examdesk/examdesk/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Options struct {
	// Secret signs access tokens; empty generates a random key.
	Secret []byte
	// TokenTTL is the access token lifetime. Zero means one hour.
	TokenTTL time.Duration
	// Password, when set, is the only accepted login password.
	Password string
	// RequireAuth protects the grading routes and the hub with a bearer token.
	RequireAuth bool
	// UploadDelay is added to every upload before it is answered.
	UploadDelay time.Duration
	// KeepAlive is the hub ping interval. Zero means 15s.
	KeepAlive time.Duration
	Logger    zerolog.Logger
}

// HubPath is where the notification hub is mounted.
const HubPath = "/hubs/notifications"

type Server struct {
	opts    Options
	fixture *Fixture
	hub     *Hub
	log     zerolog.Logger
	engine  *gin.Engine

	mu       sync.Mutex
	refreshT map[string]string // refresh token -> username
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func New(opts Options) *Server {
	if len(opts.Secret) == 0 {
		opts.Secret = make([]byte, 32)
		rand.Read(opts.Secret)
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = time.Hour
	}
	s := &Server{
		opts:     opts,
		fixture:  NewFixture(),
		log:      logging.Component(opts.Logger, "mock"),
		refreshT: make(map[string]string),
	}
	var authorize func(string) bool
	if opts.RequireAuth {
		authorize = func(tok string) bool { _, err := s.parseToken(tok); return err == nil }
	}
	s.hub = NewHub(s.log, opts.KeepAlive, authorize)
	s.engine = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }
func (s *Server) Hub() *Hub             { return s.hub }
func (s *Server) Fixture() *Fixture     { return s.fixture }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.POST(HubPath+"/negotiate", gin.WrapF(s.hub.Negotiate))
	r.GET(HubPath, gin.WrapF(s.hub.ServeWS))

	api := r.Group("/api")
	{
		api.GET("/sessions", s.listSessions)
		api.GET("/sessions/active", s.listActiveSessions)
		api.POST("/submissions/upload", s.upload(false))
		api.POST("/submissions/upload/nested-zip", s.upload(true))
		api.GET("/submissions/session/:sessionId/students", s.roster)
		api.GET("/submissions/:submissionId/images", s.images)
		api.GET("/submissions/:submissionId/text", s.text)

		api.POST("/auth/login", s.login)
		api.POST("/auth/refresh", s.refresh)
	}

	grades := api.Group("/grades")
	grades.Use(s.requireAuth())
	{
		grades.GET("/exams", s.assignedExams)
		grades.GET("/exams/:examId/submissions", s.examSubmissions)
	}
	return r
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.opts.RequireAuth {
			c.Next()
			return
		}
		authHeader := c.GetHeader("Authorization")
		tok, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}
		cl, err := s.parseToken(tok)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}
		c.Set("username", cl.Subject)
		c.Next()
	}
}

func (s *Server) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, s.fixture.Sessions())
}

func (s *Server) listActiveSessions(c *gin.Context) {
	c.JSON(http.StatusOK, s.fixture.ActiveSessions())
}

func (s *Server) roster(c *gin.Context) {
	id := c.Param("sessionId")
	if _, ok := s.fixture.Session(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "Session not found"})
		return
	}
	out := []gin.H{}
	for _, sub := range s.fixture.Roster(id) {
		out = append(out, recordJSON(sub))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) images(c *gin.Context) {
	imgs, ok := s.fixture.Images(c.Param("submissionId"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "Submission not found"})
		return
	}
	c.JSON(http.StatusOK, imgs)
}

func (s *Server) text(c *gin.Context) {
	text, ok := s.fixture.Text(c.Param("submissionId"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "Submission not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": text})
}

// upload accepts multipart SessionId and Archive. A plain upload creates one
// submission; a nested upload creates one per .zip or .rar entry of the
// outer zip.
func (s *Server) upload(nested bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.PostForm("SessionId")
		session, ok := s.fixture.Session(sessionID)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Session not found"})
			return
		}
		fh, err := c.FormFile("Archive")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Archive is required"})
			return
		}
		ext := strings.ToLower(path.Ext(fh.Filename))
		if ext != ".zip" && ext != ".rar" {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Only .zip and .rar archives are accepted"})
			return
		}

		names := []string{fh.Filename}
		if nested {
			names, err = innerArchives(fh.Filename, fh.Size, func() (readerAtCloser, error) { return fh.Open() })
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
				return
			}
		}

		if s.opts.UploadDelay > 0 {
			select {
			case <-time.After(s.opts.UploadDelay):
			case <-c.Request.Context().Done():
				return
			}
		}

		created := []gin.H{}
		for _, name := range names {
			sub := s.fixture.AddSubmission(session, name)
			created = append(created, recordJSON(sub))
			s.hub.PublishUploaded(sub)
		}
		total := len(names)
		if nested {
			s.log.Info().Str("session", sessionID).Int("created", len(created)).Msg("nested upload")
		}
		c.JSON(http.StatusOK, gin.H{
			"createdSubmissions": created,
			"totalFiles":         total,
			"processedFiles":     len(created),
		})
	}
}

type readerAtCloser interface {
	ReadAt(p []byte, off int64) (int, error)
	Close() error
}

// innerArchives lists the .zip and .rar entries of an outer zip. RAR outer
// archives are not readable here and yield no entries.
func innerArchives(name string, size int64, open func() (readerAtCloser, error)) ([]string, error) {
	if strings.ToLower(path.Ext(name)) != ".zip" {
		return []string{}, nil
	}
	f, err := open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	zr, err := zip.NewReader(f, size)
	if err != nil {
		return nil, errors.New("Archive is not a valid zip file")
	}
	out := []string{}
	for _, e := range zr.File {
		if e.FileInfo().IsDir() {
			continue
		}
		switch strings.ToLower(path.Ext(e.Name)) {
		case ".zip", ".rar":
			out = append(out, path.Base(e.Name))
		}
	}
	return out, nil
}

func recordJSON(sub Submission) gin.H {
	return gin.H{
		"submissionId": sub.SubmissionID,
		"studentId":    sub.StudentID,
		"studentName":  sub.StudentName,
		"fileName":     sub.FileName,
	}
}

func (s *Server) assignedExams(c *gin.Context) {
	c.JSON(http.StatusOK, s.fixture.AssignedExams())
}

func (s *Server) examSubmissions(c *gin.Context) {
	subs, ok := s.fixture.ExamSubmissions(c.Param("examId"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "Exam not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": subs, "total": len(subs)})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Username and password are required"})
		return
	}
	if s.opts.Password != "" && req.Password != s.opts.Password {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid username or password"})
		return
	}
	s.issue(c, req.Username)
}

func (s *Server) refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Refresh token is required"})
		return
	}
	s.mu.Lock()
	user, ok := s.refreshT[req.RefreshToken]
	delete(s.refreshT, req.RefreshToken)
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid refresh token"})
		return
	}
	s.issue(c, user)
}

func (s *Server) issue(c *gin.Context, username string) {
	tok, exp, err := s.IssueToken(username)
	if err != nil {
		s.log.Error().Err(err).Msg("sign token")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Could not issue token"})
		return
	}
	rt := uuid.NewString()
	s.mu.Lock()
	s.refreshT[rt] = username
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"token":        tok,
		"refreshToken": rt,
		"expiresAt":    exp.UTC().Format(time.RFC3339),
		"user":         gin.H{"username": username, "role": "Examiner"},
	})
}

// IssueToken signs an access token for username.
func (s *Server) IssueToken(username string) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(s.opts.TokenTTL)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: "Examiner",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}).SignedString(s.opts.Secret)
	return tok, exp, err
}

func (s *Server) parseToken(tok string) (*claims, error) {
	cl := &claims{}
	_, err := jwt.ParseWithClaims(tok, cl, func(*jwt.Token) (any, error) {
		return s.opts.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return cl, nil
}
