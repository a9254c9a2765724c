// storage.go
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// filenameSanitizer strips everything that is not a word character, dot or
// hyphen, preventing path traversal through uploaded filenames.
var filenameSanitizer = regexp.MustCompile(`[^\w.-]`)

// SanitizeFilename reduces an uploaded filename to a safe basename. An
// empty or fully-stripped name falls back to a fixed placeholder so the
// pipeline never produces an unnamed artifact.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	name = filenameSanitizer.ReplaceAllString(name, "")
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "upload"
	}
	return name
}

// AnnotatedName derives the deterministic name of the rendered output for an
// uploaded file.
func AnnotatedName(filename string) string {
	return "annotated_" + filename
}

// FileStore persists original uploads and annotated outputs under two local
// folders and serves them back by name.
type FileStore struct {
	uploadDir string
	resultDir string
}

// NewFileStore creates both folders if missing and returns the store.
func NewFileStore(settings StorageSettings) (*FileStore, error) {
	fs := &FileStore{
		uploadDir: settings.UploadDir,
		resultDir: settings.ResultDir,
	}
	for _, dir := range []string{fs.uploadDir, fs.resultDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory %s: %v", dir, err)
		}
	}
	return fs, nil
}

// SaveOriginal writes the uploaded bytes under the sanitized filename and
// returns the stored path.
func (fs *FileStore) SaveOriginal(filename string, data []byte) (string, error) {
	path := filepath.Join(fs.uploadDir, filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to save upload: %v", err)
	}
	return path, nil
}

// SaveAnnotated writes the rendered output under the annotated name and
// returns the stored path.
func (fs *FileStore) SaveAnnotated(filename string, data []byte) (string, error) {
	path := filepath.Join(fs.resultDir, AnnotatedName(filename))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to save annotated image: %v", err)
	}
	return path, nil
}

// UploadPath resolves a sanitized filename inside the upload folder.
func (fs *FileStore) UploadPath(filename string) string {
	return filepath.Join(fs.uploadDir, SanitizeFilename(filename))
}

// ResultPath resolves a sanitized filename inside the result folder.
func (fs *FileStore) ResultPath(filename string) string {
	return filepath.Join(fs.resultDir, SanitizeFilename(filename))
}

// Purge deletes every stored file in both folders. Subdirectories are left
// alone; the folders only ever contain flat files written by this store.
func (fs *FileStore) Purge() error {
	for _, dir := range []string{fs.uploadDir, fs.resultDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}
