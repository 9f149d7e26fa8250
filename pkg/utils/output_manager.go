package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// OutputManager handles output file organization and path management
type OutputManager struct {
	BaseOutputDir string
}

// NewOutputManager creates a new output manager
func NewOutputManager(baseOutputDir string) *OutputManager {
	return &OutputManager{
		BaseOutputDir: baseOutputDir,
	}
}

// CreateRunOutputDir creates the per-run directory for export artifacts
func (om *OutputManager) CreateRunOutputDir(runID string) (string, error) {
	runDir := filepath.Join(om.BaseOutputDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create run output directory: %w", err)
	}

	return runDir, nil
}

// OutputFilePath generates a full path for an output file of a run. The
// file name is cleaned of any path separators.
func (om *OutputManager) OutputFilePath(runID, fileName string) string {
	return filepath.Join(om.BaseOutputDir, runID, filepath.Base(fileName))
}

// DownloadURL generates a download URL for an export artifact
func (om *OutputManager) DownloadURL(runID, fileName string) string {
	cleanFileName := filepath.Base(fileName)
	return fmt.Sprintf("/api/v1/runs/%s/files/%s", runID, cleanFileName)
}

// FileType determines the file type based on extension
func (om *OutputManager) FileType(fileName string) string {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".csv":
		return "csv"
	case ".json":
		return "json"
	case ".db", ".sqlite":
		return "sqlite"
	default:
		return "unknown"
	}
}

// FileSize returns the size of a file in bytes
func (om *OutputManager) FileSize(filePath string) (int64, error) {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return 0, err
	}
	return fileInfo.Size(), nil
}

// RemoveRunOutputs deletes every artifact exported for a run
func (om *OutputManager) RemoveRunOutputs(runID string) error {
	if runID == "" {
		return fmt.Errorf("run id required")
	}
	return os.RemoveAll(filepath.Join(om.BaseOutputDir, runID))
}

// EnsureOutputDirExists ensures the base output directory exists
func (om *OutputManager) EnsureOutputDirExists() error {
	return os.MkdirAll(om.BaseOutputDir, 0755)
}
