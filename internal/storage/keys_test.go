package storage_test

import (
	"testing"

	"fivecut/internal/storage"
)

func TestUploadKey(t *testing.T) {
	key := storage.UploadKey("sub-123", "match.mp4")
	if key != "users/sub-123/uploads/match.mp4" {
		t.Fatalf("unexpected upload key %q", key)
	}
}

func TestExportKey(t *testing.T) {
	key := storage.ExportKey("sub-123", "job-1", "highlighter", "highlights", "final.mp4")
	if key != "users/sub-123/exports/job-1/highlighter/highlights/final.mp4" {
		t.Fatalf("unexpected export key %q", key)
	}
	prefix := storage.ExportPrefix("sub-123", "job-1")
	if prefix != "users/sub-123/exports/job-1/" {
		t.Fatalf("unexpected export prefix %q", prefix)
	}
}

func TestOwnerFromKey(t *testing.T) {
	owner, err := storage.OwnerFromKey("users/sub-123/uploads/match.mp4")
	if err != nil {
		t.Fatalf("OwnerFromKey: %v", err)
	}
	if owner != "sub-123" {
		t.Fatalf("unexpected owner %q", owner)
	}

	if _, err := storage.OwnerFromKey("public/match.mp4"); err == nil {
		t.Fatal("expected error for non-namespaced key")
	}
	if _, err := storage.OwnerFromKey("users//uploads/match.mp4"); err == nil {
		t.Fatal("expected error for empty subject")
	}
}

func TestIsExportKey(t *testing.T) {
	if !storage.IsExportKey("users/sub-123/exports/job-1/output.mp4") {
		t.Fatal("expected export key to be recognized")
	}
	if storage.IsExportKey("users/sub-123/uploads/match.mp4") {
		t.Fatal("upload key must not be treated as export")
	}
}

func TestContentTypeFor(t *testing.T) {
	cases := map[string]string{
		"users/s/uploads/a.mp4":              "video/mp4",
		"users/s/exports/j/detections.json":  "application/json",
		"users/s/exports/j/logs/worker.log":  "text/plain",
		"users/s/uploads/noext":              "application/octet-stream",
	}
	for key, want := range cases {
		if got := storage.ContentTypeFor(key); got != want {
			t.Fatalf("ContentTypeFor(%q) = %q, want %q", key, got, want)
		}
	}
}
