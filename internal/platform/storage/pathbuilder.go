package storage

import (
	"fmt"
	"strings"
)

// DocumentObjectPath composes the object key for a job's press-ready document.
func DocumentObjectPath(jobID string) (string, error) {
	id, err := validateSegment("jobID", jobID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("print-jobs/%s/document.pdf", id), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
