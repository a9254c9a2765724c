// detector.go
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"time"
)

// ErrDetectorUnavailable indicates the inference sidecar could not be reached
// or did not answer within the configured timeout. Callers map it to a
// zero-point result with an explanatory message instead of failing the request.
var ErrDetectorUnavailable = errors.New("detector service unavailable")

// AnalysisOutcome is everything the detection model returns for one image:
// the raw detection records and the rendered annotated image.
type AnalysisOutcome struct {
	Detections []Detection
	Annotated  []byte
}

// DetectorClient talks to the YOLO inference sidecar over HTTP. The model
// itself runs out of process; confidence and IoU thresholds are fixed
// hyperparameters forwarded with every request.
type DetectorClient struct {
	baseURL string
	conf    float64
	iou     float64
	timeout time.Duration
	client  *http.Client
}

// NewDetectorClient creates a client for the configured inference sidecar.
func NewDetectorClient(settings DetectorSettings) *DetectorClient {
	timeout := time.Duration(settings.Timeout) * time.Second
	return &DetectorClient{
		baseURL: settings.URL,
		conf:    settings.ConfidenceThreshold,
		iou:     settings.IoUThreshold,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// detectorResponse is the wire format of the sidecar's /analyze endpoint.
type detectorResponse struct {
	Detections     []Detection `json:"detections"`
	AnnotatedImage string      `json:"annotated_image"` // base64-encoded rendered image
}

// Analyze sends the image to the sidecar and returns the raw detections plus
// the annotated rendering. Any transport failure, timeout or non-200 response
// is reported as ErrDetectorUnavailable.
func (d *DetectorClient) Analyze(ctx context.Context, imageData []byte, filename string) (*AnalysisOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %v", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(imageData)); err != nil {
		return nil, fmt.Errorf("failed to copy image content: %v", err)
	}

	// Forward the model hyperparameters with the request
	if err := writer.WriteField("conf", fmt.Sprintf("%g", d.conf)); err != nil {
		return nil, fmt.Errorf("failed to add conf field: %v", err)
	}
	if err := writer.WriteField("iou", fmt.Sprintf("%g", d.iou)); err != nil {
		return nil, fmt.Errorf("failed to add iou field: %v", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", d.baseURL+"/analyze", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrDetectorUnavailable, resp.StatusCode, string(respBody))
	}

	var decoded detectorResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: invalid response: %v", ErrDetectorUnavailable, err)
	}

	annotated, err := base64.StdEncoding.DecodeString(decoded.AnnotatedImage)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid annotated image: %v", ErrDetectorUnavailable, err)
	}

	return &AnalysisOutcome{Detections: decoded.Detections, Annotated: annotated}, nil
}

// Online checks whether the sidecar is responding to health checks.
func (d *DetectorClient) Online() bool {
	resp, err := d.client.Get(d.baseURL + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// startDetectorMonitor logs the sidecar's availability at startup and then
// periodically. Uploads degrade to zero-point results while it is offline,
// so the log is the operator's main signal.
func startDetectorMonitor(d *DetectorClient, interval time.Duration) {
	go func() {
		if d.Online() {
			log.Println("Detector service is online and responding to health checks")
		} else {
			log.Println("WARNING: Detector service is offline! Uploads will return zero-point results until it is available.")
		}

		ticker := time.NewTicker(interval)
		for range ticker.C {
			if d.Online() {
				log.Println("Detector service connection status: Online")
			} else {
				log.Println("Detector service connection status: Offline")
			}
		}
	}()
}
