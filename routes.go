// routes.go
package main

import (
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// sanitizeInput cleans form input to prevent injection attacks
func sanitizeInput(input string) string {
	input = strings.TrimSpace(input)
	re := regexp.MustCompile(`[^\w@.-]`)
	return re.ReplaceAllString(input, "")
}

// Server bundles the collaborators every handler needs. Constructed once at
// process start and passed explicitly; there is no package-level state.
type Server struct {
	config   *ServerConfig
	users    *UserStore
	history  *HistoryStore
	files    *FileStore
	detector *DetectorClient
	gate     *UploadGate
	retry    *RetryService
}

// NewServer wires the handler dependencies together.
func NewServer(config *ServerConfig, users *UserStore, history *HistoryStore,
	files *FileStore, detector *DetectorClient, gate *UploadGate, retry *RetryService) *Server {
	return &Server{
		config:   config,
		users:    users,
		history:  history,
		files:    files,
		detector: detector,
		gate:     gate,
		retry:    retry,
	}
}

// authRequired checks for a valid session and exposes the identity to
// handlers via the request context.
func (s *Server) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		userID := session.Get("user_id")
		username := session.Get("username")
		authenticated := session.Get("authenticated")

		if userID == nil || username == nil || authenticated == nil {
			RespondUnauthorized(c, "Authentication required")
			c.Abort()
			return
		}

		c.Set("user_id", userID)
		c.Set("username", username)
		isAdmin, _ := session.Get("is_admin").(bool)
		c.Set("is_admin", isAdmin)
		c.Next()
	}
}

// adminRequired allows only administrative sessions through. Must run after
// authRequired.
func (s *Server) adminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool("is_admin") {
			RespondForbidden(c, "Administrator access required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// healthCheck responds with server status and detector reachability
func (s *Server) healthCheck(c *gin.Context) {
	detectorStatus := "offline"
	if s.detector.Online() {
		detectorStatus = "online"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"time":     time.Now().UTC().Format(time.RFC3339),
		"service":  "GreenEye_Server",
		"detector": detectorStatus,
		"uploads":  s.gate.Stats(),
	})
}

// registerRoutes sets up all the API endpoints for the server
func (s *Server) registerRoutes(r *gin.Engine) {
	// Health check endpoints (no authentication required)
	r.GET("/", s.healthCheck)
	r.GET("/health", s.healthCheck)

	// Public routes
	r.POST("/login", s.login)
	r.GET("/uploads/:filename", s.serveUpload)
	r.GET("/results/:filename", s.serveResult)

	// Authenticated routes (require valid session)
	authenticated := r.Group("/")
	authenticated.Use(s.authRequired())
	{
		authenticated.POST("/logout", s.logout)
		authenticated.GET("/dashboard", s.dashboard)
		authenticated.GET("/inspection", s.inspection)
		authenticated.GET("/history", s.historyPage)
		authenticated.POST("/upload", s.upload)

		admin := authenticated.Group("/admin")
		admin.Use(s.adminRequired())
		admin.POST("/purge", s.adminPurge)
	}
}

// login handles both user login and first-login registration. Administrative
// credentials from the config open an admin session and, preserving the
// legacy behavior, purge all inspection data on the way in.
func (s *Server) login(c *gin.Context) {
	username := c.PostForm("username")
	password := c.PostForm("password")

	if username == "" || password == "" {
		RespondBadRequest(c, "Username and password are required")
		return
	}

	username = sanitizeInput(username)

	// Administrator login
	if s.config.Admin.Password != "" &&
		username == s.config.Admin.Username && password == s.config.Admin.Password {
		if err := s.purgeAllData(); err != nil {
			log.Printf("Admin login purge failed: %v", err)
			RespondInternalError(c, "Failed to reset inspection data")
			return
		}
		if err := s.startSession(c, 0, "Admin", true); err != nil {
			RespondInternalError(c, "Failed to create session")
			return
		}
		RespondSuccess(c, "Logged in as administrator, inspection data reset")
		return
	}

	user, created, err := s.users.LoginOrRegister(username, password)
	if err != nil {
		if errors.Is(err, ErrWrongPassword) {
			RespondUnauthorized(c, "Invalid username or password")
			return
		}
		log.Printf("Login failed for %s: %v", username, err)
		RespondInternalError(c, "Login failed")
		return
	}

	if err := s.startSession(c, user.ID, user.Username, false); err != nil {
		RespondInternalError(c, "Failed to create session")
		return
	}

	if created {
		RespondSuccessWithData(c, "Welcome! Your account has been created.", gin.H{"username": user.Username})
		return
	}
	RespondSuccess(c, "Logged in successfully")
}

// startSession stores the identity in a fresh cookie session.
func (s *Server) startSession(c *gin.Context, userID uint, username string, isAdmin bool) error {
	session := sessions.Default(c)
	session.Options(sessions.Options{
		MaxAge:   s.config.Security.SessionMaxAge,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.config.Security.EnableHTTPS,
	})
	session.Set("user_id", userID)
	session.Set("username", username)
	session.Set("is_admin", isAdmin)
	session.Set("authenticated", true)
	return session.Save()
}

// logout handles user logout
func (s *Server) logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Save()

	RespondSuccess(c, "Logged out successfully")
}

// dashboard returns the user's current points balance
func (s *Server) dashboard(c *gin.Context) {
	points := 0
	if !c.GetBool("is_admin") {
		userID, _ := c.Get("user_id")
		id, ok := userID.(uint)
		if ok {
			balance, err := s.users.PointsBalance(id)
			if err != nil {
				log.Printf("Failed to read points balance for user %d: %v", id, err)
				RespondInternalError(c, "Failed to read points balance")
				return
			}
			points = balance
		}
	}
	c.JSON(http.StatusOK, gin.H{"points": points})
}

// inspection returns today's submission count against the daily cap
func (s *Server) inspection(c *gin.Context) {
	todayCount := int64(0)
	if !c.GetBool("is_admin") {
		username := c.GetString("username")
		count, err := s.history.CountOnDate(username, time.Now())
		if err != nil {
			log.Printf("Failed to count today's inspections for %s: %v", username, err)
			RespondInternalError(c, "Failed to read inspection quota")
			return
		}
		todayCount = count
	}
	c.JSON(http.StatusOK, gin.H{
		"today_count": todayCount,
		"max_count":   DailyUploadCap,
	})
}

// historyPage returns one page of the user's inspection history,
// most recent first
func (s *Server) historyPage(c *gin.Context) {
	username := c.GetString("username")

	page := 1
	if p, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil && p > 0 {
		page = p
	}

	totalCount, err := s.history.Count(username)
	if err != nil {
		RespondInternalError(c, "Failed to read history")
		return
	}

	entries, err := s.history.Page(username, page)
	if err != nil {
		RespondInternalError(c, "Failed to read history")
		return
	}

	historyList := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		details, err := entry.Details()
		if err != nil {
			log.Printf("Corrupt detection details on history entry %d: %v", entry.ID, err)
			details = []Detection{}
		}
		historyList = append(historyList, gin.H{
			"id":            entry.ID,
			"upload_date":   entry.CreatedAt.Format("2006-01-02 15:04:05"),
			"org_filename":  entry.OrgFilename,
			"res_filename":  entry.ResFilename,
			"score":         entry.Score,
			"result_status": entry.ResultStatus,
			"details":       details,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"history":     historyList,
		"page":        page,
		"total_pages": TotalPages(totalCount),
		"total_count": totalCount,
	})
}

// upload runs the full inspection pipeline: quota check, duplicate guard,
// model analysis, scoring, and the atomic history insert + points credit.
func (s *Server) upload(c *gin.Context) {
	username := c.GetString("username")
	isAdmin := c.GetBool("is_admin")
	userID, _ := c.Get("user_id")
	uid, _ := userID.(uint)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		RespondBadRequest(c, "File upload failed")
		return
	}
	defer file.Close()

	imageData, err := io.ReadAll(file)
	if err != nil || len(imageData) == 0 {
		RespondBadRequest(c, "Empty or unreadable file")
		return
	}
	filename := SanitizeFilename(header.Filename)

	// Serialize the rest of the pipeline per user
	release, ok := s.gate.Acquire(username)
	if !ok {
		RespondWithError(c, http.StatusServiceUnavailable, ErrCodeRateLimit,
			"Server is busy, please try again shortly.", "")
		return
	}
	defer release()

	// Daily quota (admins are exempt)
	if !isAdmin {
		todayCount, err := s.history.CountOnDate(username, time.Now())
		if err != nil {
			RespondWithError(c, http.StatusServiceUnavailable, ErrCodePersistence,
				"Inspection service is temporarily unavailable. Please try again.", "")
			return
		}
		if todayCount >= DailyUploadCap {
			RespondWithError(c, http.StatusTooManyRequests, ErrCodeQuotaExceeded,
				"Daily inspection limit reached. Please come back tomorrow.", "")
			return
		}
	}

	// Duplicate guard: fail safe when the store cannot be queried
	fingerprint := Fingerprint(imageData)
	duplicate, err := s.history.DuplicateExists(username, fingerprint)
	if err != nil {
		log.Printf("Duplicate check failed for %s: %v", username, err)
		RespondWithError(c, http.StatusServiceUnavailable, ErrCodePersistence,
			"Inspection service is temporarily unavailable. Please try again.", "")
		return
	}
	if duplicate {
		c.JSON(http.StatusOK, gin.H{
			"score":          nil,
			"message":        "This image has already been processed.",
			"result_status":  StatusDuplicate,
			"uploaded_image": filename,
		})
		return
	}

	if _, err := s.files.SaveOriginal(filename, imageData); err != nil {
		log.Printf("Failed to store upload %s: %v", filename, err)
		RespondInternalError(c, "Failed to store uploaded file")
		return
	}

	// Model analysis. A detector outage degrades to a zero-point result and
	// leaves no history entry, so the user can retry the same image later.
	outcome, err := s.detector.Analyze(c.Request.Context(), imageData, filename)
	if err != nil {
		log.Printf("Detector analysis failed for %s: %v", filename, err)
		c.JSON(http.StatusOK, gin.H{
			"score":          0,
			"message":        "The analysis model is currently unavailable. Your image was not counted; please try again later.",
			"result_status":  StatusError,
			"error_code":     ErrCodeModelUnavailable,
			"uploaded_image": filename,
		})
		return
	}

	verdict, deduped := NormalizeDetections(outcome.Detections)
	result := ScoreVerdict(verdict)

	annotatedFilename := AnnotatedName(filename)
	if _, err := s.files.SaveAnnotated(filename, outcome.Annotated); err != nil {
		// The decision is already made; serve the original if rendering is lost
		log.Printf("Failed to store annotated image for %s: %v", filename, err)
		annotatedFilename = filename
	}

	entry := HistoryEntry{
		Username:     username,
		OrgFilename:  filename,
		ResFilename:  annotatedFilename,
		Score:        result.Points,
		ResultStatus: result.Status,
		ImageHash:    fingerprint,
	}
	entry.CreatedAt = time.Now()
	if err := entry.SetDetails(deduped); err != nil {
		log.Printf("Failed to serialize detection details: %v", err)
	}

	creditUserID := uint(0)
	if result.Status == StatusPass && !isAdmin {
		creditUserID = uid
	}

	// The analysis result is already final; a failed write is queued for
	// background retry rather than failing the response.
	if err := s.history.RecordUpload(&entry, creditUserID, result.Points); err != nil {
		log.Printf("Failed to persist inspection for %s: %v", username, err)
		s.retry.Enqueue(entry, creditUserID, result.Points)
	}

	c.JSON(http.StatusOK, gin.H{
		"score":          result.Points,
		"message":        result.Message,
		"result_status":  result.Status,
		"deductions":     result.Deductions,
		"detect_status":  verdict,
		"details":        deduped,
		"uploaded_image": annotatedFilename,
	})
}

// adminPurge is the explicit administrative reset command: all history rows
// and stored files are removed, user accounts are kept.
func (s *Server) adminPurge(c *gin.Context) {
	if err := s.purgeAllData(); err != nil {
		log.Printf("Administrative purge failed: %v", err)
		RespondInternalError(c, "Failed to purge inspection data")
		return
	}
	RespondSuccess(c, "All inspection data purged")
}

// purgeAllData removes every history entry and stored file. Destructive,
// irreversible, all-or-nothing from the caller's point of view.
func (s *Server) purgeAllData() error {
	if err := s.history.PurgeAll(); err != nil {
		return err
	}
	return s.files.Purge()
}

// serveUpload serves an original uploaded file by name
func (s *Server) serveUpload(c *gin.Context) {
	s.serveStored(c, s.files.UploadPath(c.Param("filename")))
}

// serveResult serves an annotated result file by name
func (s *Server) serveResult(c *gin.Context) {
	s.serveStored(c, s.files.ResultPath(c.Param("filename")))
}

func (s *Server) serveStored(c *gin.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		RespondNotFound(c, "File not found")
		return
	}
	c.File(path)
}
