package main

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// detection mirrors the wire format of the real sidecar.
type detection struct {
	Class      string     `json:"class"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"box"`
}

// handleAnalyze accepts a multipart image and answers with canned detections.
// The filename drives the outcome: a name containing "cap" or "label" reports
// that class still attached, "nobottle" suppresses the container body. The
// "annotated" rendering is simply the original image echoed back.
func handleAnalyze(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File upload failed"})
		return
	}
	defer file.Close()

	imageData, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable file"})
		return
	}

	conf, _ := strconv.ParseFloat(c.PostForm("conf"), 64)
	iou, _ := strconv.ParseFloat(c.PostForm("iou"), 64)

	detections := cannedDetections(header.Filename)

	// Record the served inference for debugging
	detectionsJSON, _ := json.Marshal(detections)
	record := InferenceRecord{
		FileName:   header.Filename,
		FileSize:   int64(len(imageData)),
		Conf:       conf,
		IoU:        iou,
		Detections: string(detectionsJSON),
		ServedAt:   time.Now(),
	}
	if err := db.Create(&record).Error; err != nil {
		log.Printf("Failed to record inference: %v", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"detections":      detections,
		"annotated_image": base64.StdEncoding.EncodeToString(imageData),
	})
}

// cannedDetections derives a deterministic detection set from the filename.
func cannedDetections(filename string) []detection {
	name := strings.ToLower(filename)
	detections := []detection{}

	if !strings.Contains(name, "nobottle") {
		detections = append(detections, detection{
			Class: "bottle", Confidence: 0.92, Box: [4]float64{40, 20, 280, 460},
		})
	}
	if strings.Contains(name, "cap") {
		detections = append(detections, detection{
			Class: "cap", Confidence: 0.81, Box: [4]float64{120, 10, 200, 70},
		})
	}
	if strings.Contains(name, "label") {
		detections = append(detections, detection{
			Class: "label", Confidence: 0.77, Box: [4]float64{60, 180, 260, 320},
		})
	}
	return detections
}

// listInferences returns every recorded inference
func listInferences(c *gin.Context) {
	var records []InferenceRecord
	if err := db.Find(&records).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve inferences"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"inferences": records})
}

// handleHealth responds with stub status
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "detector_stub",
	})
}
