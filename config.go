// config.go
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ServerConfig holds all server configuration
type ServerConfig struct {
	Server   ServerSettings   `json:"server"`
	Database DatabaseSettings `json:"database"`
	Security SecuritySettings `json:"security"`
	Detector DetectorSettings `json:"detector"`
	Storage  StorageSettings  `json:"storage"`
	Admin    AdminSettings    `json:"admin"`
}

// ServerSettings contains server-specific configuration
type ServerSettings struct {
	Interface    string `json:"interface"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"read_timeout"`
	WriteTimeout int    `json:"write_timeout"`
	IdleTimeout  int    `json:"idle_timeout"`
}

// DatabaseSettings contains database configuration
type DatabaseSettings struct {
	Path string `json:"path"`
}

// SecuritySettings contains security-related configuration
type SecuritySettings struct {
	SecretKey         string   `json:"-"` // Never serialize secret key
	SessionMaxAge     int      `json:"session_max_age"`
	RateLimitRequests int      `json:"rate_limit_requests"`
	RateLimitWindow   int      `json:"rate_limit_window"`
	EnableHTTPS       bool     `json:"enable_https"`
	CertFile          string   `json:"cert_file"`
	KeyFile           string   `json:"key_file"`
	AllowedOrigins    []string `json:"allowed_origins"`
}

// DetectorSettings contains the inference sidecar configuration. Confidence
// and IoU are model hyperparameters fixed at deployment time; they are passed
// through to the sidecar, never applied in this process.
type DetectorSettings struct {
	URL                 string  `json:"url"`
	Timeout             int     `json:"timeout"`
	HealthCheckInterval int     `json:"health_check_interval"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	IoUThreshold        float64 `json:"iou_threshold"`
}

// StorageSettings contains upload and result folder configuration
type StorageSettings struct {
	UploadDir string `json:"upload_dir"`
	ResultDir string `json:"result_dir"`
}

// AdminSettings contains the administrative account credentials
type AdminSettings struct {
	Username string `json:"username"`
	Password string `json:"-"` // Never serialize the admin password
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*ServerConfig, error) {
	// Default configuration
	config := &ServerConfig{
		Server: ServerSettings{
			Interface:    ":5000",
			Port:         5000,
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  120,
		},
		Database: DatabaseSettings{
			Path: "greeneye.db",
		},
		Security: SecuritySettings{
			SessionMaxAge:     86400, // 24 hours
			RateLimitRequests: 100,
			RateLimitWindow:   60, // 1 minute
			EnableHTTPS:       false,
			AllowedOrigins: []string{
				"http://localhost:3000",
				"http://localhost:5000",
				"http://127.0.0.1:3000",
				"http://127.0.0.1:5000",
			},
		},
		Detector: DetectorSettings{
			URL:                 "http://localhost:6000",
			Timeout:             30,
			HealthCheckInterval: 300,
			ConfidenceThreshold: 0.3,
			IoUThreshold:        0.45,
		},
		Storage: StorageSettings{
			UploadDir: "uploads",
			ResultDir: "results",
		},
		Admin: AdminSettings{
			Username: "admin",
		},
	}

	// Load from file if it exists
	if configPath != "" {
		if err := loadConfigFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %v", err)
		}
	}

	// Override with environment variables
	loadConfigFromEnv(config)

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}

	return config, nil
}

// loadConfigFromFile loads configuration from JSON file
func loadConfigFromFile(config *ServerConfig, path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File doesn't exist, use defaults
		}
		return err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	return decoder.Decode(config)
}

// loadConfigFromEnv loads configuration from environment variables
func loadConfigFromEnv(config *ServerConfig) {
	// Security settings (most important)
	if secretKey := os.Getenv("SECRET_KEY"); secretKey != "" {
		config.Security.SecretKey = secretKey
	}

	// Server settings
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
			config.Server.Interface = fmt.Sprintf(":%d", p)
		}
	}
	if iface := os.Getenv("SERVER_INTERFACE"); iface != "" {
		config.Server.Interface = iface
	}

	// Database settings
	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		config.Database.Path = dbPath
	}

	// Detector settings
	if detectorURL := os.Getenv("DETECTOR_URL"); detectorURL != "" {
		config.Detector.URL = detectorURL
	}
	if timeout := os.Getenv("DETECTOR_TIMEOUT"); timeout != "" {
		if t, err := strconv.Atoi(timeout); err == nil {
			config.Detector.Timeout = t
		}
	}

	// Storage settings
	if uploadDir := os.Getenv("UPLOAD_DIR"); uploadDir != "" {
		config.Storage.UploadDir = uploadDir
	}
	if resultDir := os.Getenv("RESULT_DIR"); resultDir != "" {
		config.Storage.ResultDir = resultDir
	}

	// Admin settings
	if adminUser := os.Getenv("ADMIN_USERNAME"); adminUser != "" {
		config.Admin.Username = adminUser
	}
	if adminPass := os.Getenv("ADMIN_PASSWORD"); adminPass != "" {
		config.Admin.Password = adminPass
	}

	// Security settings
	if httpsEnabled := os.Getenv("ENABLE_HTTPS"); httpsEnabled != "" {
		config.Security.EnableHTTPS = strings.ToLower(httpsEnabled) == "true"
	}
	if certFile := os.Getenv("CERT_FILE"); certFile != "" {
		config.Security.CertFile = certFile
	}
	if keyFile := os.Getenv("KEY_FILE"); keyFile != "" {
		config.Security.KeyFile = keyFile
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.Security.AllowedOrigins = strings.Split(origins, ",")
	}
}

// validateConfig validates the configuration
func validateConfig(config *ServerConfig) error {
	if config.Security.SecretKey == "" {
		return fmt.Errorf("SECRET_KEY is required")
	}

	if len(config.Security.SecretKey) < 32 {
		return fmt.Errorf("SECRET_KEY must be at least 32 characters long")
	}

	if config.Security.EnableHTTPS {
		if config.Security.CertFile == "" || config.Security.KeyFile == "" {
			return fmt.Errorf("CERT_FILE and KEY_FILE are required when HTTPS is enabled")
		}
	}

	if config.Detector.URL == "" {
		return fmt.Errorf("detector URL is required")
	}

	if config.Detector.ConfidenceThreshold < 0 || config.Detector.ConfidenceThreshold > 1 {
		return fmt.Errorf("detector confidence threshold must be in [0,1]")
	}

	if config.Detector.IoUThreshold < 0 || config.Detector.IoUThreshold > 1 {
		return fmt.Errorf("detector IoU threshold must be in [0,1]")
	}

	return nil
}
