package id

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dchest/uniuri"
)

var caseInsensitiveAlphabet = []byte("abcdefghijklmnopqrstuvwxyz1234567890")

var projectIDPattern = regexp.MustCompile("^[a-z0-9-_]+$")

func Generate() string {
	return uniuri.NewLenChars(uniuri.UUIDLen, caseInsensitiveAlphabet)
}

// CleanProjectID normalizes a project identifier so it can be used as a
// registry key and as part of snapshot names.
func CleanProjectID(projectID string) (string, error) {
	cleaned := strings.ToLower(strings.TrimSpace(projectID))
	if cleaned == "" {
		return "", fmt.Errorf("project ID is empty")
	}

	if !projectIDPattern.MatchString(cleaned) {
		return "", fmt.Errorf("invalid project ID: %s", projectID)
	}

	return cleaned, nil
}
