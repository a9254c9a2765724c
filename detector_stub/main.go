// detector_stub is a stand-in for the YOLO inference sidecar. It speaks the
// same /analyze protocol as the real model service but returns canned
// detections derived from the uploaded filename, so the main server can be
// developed and exercised without a GPU or model weights.
package main

import (
	"encoding/json"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Config holds the stub configuration
type Config struct {
	ServerPort   string `json:"server_port"`
	DatabasePath string `json:"database_path"`
}

var (
	db     *gorm.DB
	config Config
)

func main() {
	// Load configuration
	if err := loadConfig(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	var err error
	db, err = gorm.Open(sqlite.Open(config.DatabasePath), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Auto-migrate the database schema
	if err := db.AutoMigrate(&InferenceRecord{}); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// Initialize router
	r := gin.Default()
	setupRoutes(r)

	// Start server
	if err := r.Run(":" + config.ServerPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func loadConfig() error {
	// Defaults match the main server's detector settings
	config = Config{
		ServerPort:   "6000",
		DatabasePath: "detector_stub.db",
	}

	configFile, err := os.Open("config.json")
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer configFile.Close()

	return json.NewDecoder(configFile).Decode(&config)
}

func setupRoutes(r *gin.Engine) {
	r.POST("/analyze", handleAnalyze)
	r.GET("/inferences", listInferences)
	r.GET("/health", handleHealth)
}
