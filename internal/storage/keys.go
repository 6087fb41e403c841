package storage

import (
	"fmt"
	"path"
	"strings"
)

const (
	keyRoot        = "users"
	uploadsSegment = "uploads"
	exportsSegment = "exports"
)

// UploadKey builds the object key for a user upload.
func UploadKey(ownerSub, filename string) string {
	return path.Join(keyRoot, ownerSub, uploadsSegment, filename)
}

// ExportPrefix is the key prefix under which all artifacts of a job live.
func ExportPrefix(ownerSub, jobID string) string {
	return path.Join(keyRoot, ownerSub, exportsSegment, jobID) + "/"
}

// ExportKey builds an artifact key under the job's export prefix.
func ExportKey(ownerSub, jobID string, parts ...string) string {
	elems := append([]string{keyRoot, ownerSub, exportsSegment, jobID}, parts...)
	return path.Join(elems...)
}

// OwnerFromKey extracts the owning subject from a namespaced key. It returns
// an error for keys outside the users/ namespace.
func OwnerFromKey(key string) (string, error) {
	parts := strings.Split(strings.TrimPrefix(key, "/"), "/")
	if len(parts) < 3 || parts[0] != keyRoot || parts[1] == "" {
		return "", fmt.Errorf("key %q is not user-namespaced", key)
	}
	return parts[1], nil
}

// IsExportKey reports whether the key lives under a user's exports tree.
func IsExportKey(key string) bool {
	parts := strings.Split(strings.TrimPrefix(key, "/"), "/")
	return len(parts) >= 3 && parts[0] == keyRoot && parts[2] == exportsSegment
}
