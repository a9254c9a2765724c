// main.go
package main

import (
	"log"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

func main() {
	// Load server configuration
	config, err := LoadConfig("config.json")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize the SQLite database connection
	db, err := gorm.Open(sqlite.Open(config.Database.Path), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Perform automatic schema migration
	if err := db.AutoMigrate(&User{}, &HistoryEntry{}); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// Upload and result folders
	files, err := NewFileStore(config.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize file storage: %v", err)
	}

	// Collaborators, constructed once and passed explicitly
	users := NewUserStore(db)
	history := NewHistoryStore(db)
	detector := NewDetectorClient(config.Detector)
	gate := NewUploadGate(64)
	retry := NewRetryService(history, 128)

	server := NewServer(config, users, history, files, detector, gate, retry)

	// Create a new Gin router for handling HTTP requests
	r := gin.Default()

	// Add security middleware
	r.Use(SecurityHeadersMiddleware())
	r.Use(CORSMiddleware(config.Security.AllowedOrigins))
	r.Use(LoggingMiddleware())
	r.Use(RateLimitMiddleware(config.Security.RateLimitRequests, time.Duration(config.Security.RateLimitWindow)*time.Second))

	// Set up session middleware using the secret key
	store := cookie.NewStore([]byte(config.Security.SecretKey))
	store.Options(sessions.Options{
		MaxAge:   config.Security.SessionMaxAge,
		Path:     "/",
		HttpOnly: true,
		Secure:   config.Security.EnableHTTPS,
	})
	r.Use(sessions.Sessions("greeneye_session", store))

	// Register all the API routes
	server.registerRoutes(r)

	// Background services
	retry.Start()
	defer retry.Stop()
	startDetectorMonitor(detector, time.Duration(config.Detector.HealthCheckInterval)*time.Second)

	// Run the Gin server on the configured interface
	if config.Security.EnableHTTPS && config.Security.CertFile != "" && config.Security.KeyFile != "" {
		log.Printf("Starting HTTPS server on %s", config.Server.Interface)
		if err := r.RunTLS(config.Server.Interface, config.Security.CertFile, config.Security.KeyFile); err != nil {
			log.Fatalf("Failed to run HTTPS server: %v", err)
		}
	} else {
		log.Printf("Starting HTTP server on %s", config.Server.Interface)
		if err := r.Run(config.Server.Interface); err != nil {
			log.Fatalf("Failed to run server: %v", err)
		}
	}
}
