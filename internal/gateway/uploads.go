package gateway

import (
	"context"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"fivecut/internal/services"
	"fivecut/internal/storage"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// sanitizeFilename replaces every character outside [A-Za-z0-9._-] so the
// uploaded name is safe as a key segment.
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	if name == "" || strings.Trim(name, "._") == "" {
		name = "upload"
	}
	return name
}

// normalizeETag ensures the entity tag is wrapped in double quotes exactly
// once, as CompleteMultipartUpload requires.
func normalizeETag(etag string) string {
	trimmed := strings.Trim(strings.TrimSpace(etag), `"`)
	return `"` + trimmed + `"`
}

type createMultipartRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
}

func (s *Server) createMultipart(c echo.Context) error {
	var req createMultipartRequest
	if err := c.Bind(&req); err != nil || req.Filename == "" {
		return services.Wrap(services.ErrValidation, "", "bind", "filename required", err)
	}

	ident := callerIdentity(c)
	key := storage.UploadKey(ident.Subject, uuid.NewString()+"/"+sanitizeFilename(req.Filename))

	uploadID, err := s.objects.CreateMultipart(c.Request().Context(), key)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"uploadId": uploadID, "key": key})
}

type signPartRequest struct {
	Key        string `json:"key"`
	UploadID   string `json:"uploadId"`
	PartNumber int32  `json:"partNumber"`
}

func (s *Server) signPart(c echo.Context) error {
	var req signPartRequest
	if err := c.Bind(&req); err != nil || req.Key == "" || req.UploadID == "" {
		return services.Wrap(services.ErrValidation, "", "bind", "key and uploadId required", err)
	}
	if req.PartNumber < 1 {
		return services.Wrap(services.ErrValidation, "", "bind", "partNumber must be >= 1", nil)
	}
	if err := authorizeKey(c, req.Key); err != nil {
		return err
	}

	url, err := s.objects.PresignUploadPart(c.Request().Context(), req.Key, req.UploadID, req.PartNumber, defaultPresignExpiry)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"url": url})
}

type completePart struct {
	ETag       string `json:"etag"`
	PartNumber int32  `json:"partNumber"`
}

type completeMultipartRequest struct {
	Key      string         `json:"key"`
	UploadID string         `json:"uploadId"`
	Parts    []completePart `json:"parts"`
}

func (s *Server) completeMultipart(c echo.Context) error {
	var req completeMultipartRequest
	if err := c.Bind(&req); err != nil || req.Key == "" || req.UploadID == "" || len(req.Parts) == 0 {
		return services.Wrap(services.ErrValidation, "", "bind", "key, uploadId, and parts required", err)
	}
	if err := authorizeKey(c, req.Key); err != nil {
		return err
	}

	parts := make([]storage.CompletedPart, 0, len(req.Parts))
	for _, part := range req.Parts {
		if part.PartNumber < 1 {
			return services.Wrap(services.ErrValidation, "", "bind", "partNumber must be >= 1", nil)
		}
		parts = append(parts, storage.CompletedPart{
			PartNumber: part.PartNumber,
			ETag:       normalizeETag(part.ETag),
		})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	if err := s.objects.CompleteMultipart(c.Request().Context(), req.Key, req.UploadID, parts); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "key": req.Key})
}

type abortMultipartRequest struct {
	Key      string `json:"key"`
	UploadID string `json:"uploadId"`
}

func (s *Server) abortMultipart(c echo.Context) error {
	var req abortMultipartRequest
	if err := c.Bind(&req); err != nil || req.Key == "" || req.UploadID == "" {
		return services.Wrap(services.ErrValidation, "", "bind", "key and uploadId required", err)
	}
	if err := authorizeKey(c, req.Key); err != nil {
		return err
	}

	// Best effort: a vanished upload session is not a client error.
	if err := s.objects.AbortMultipart(c.Request().Context(), req.Key, req.UploadID); err != nil && !storage.IsNotFound(err) {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) deleteUpload(c echo.Context) error {
	key := c.Param("*")
	if key == "" {
		return services.Wrap(services.ErrValidation, "", "bind", "key required", nil)
	}
	if err := authorizeKey(c, key); err != nil {
		return err
	}
	if err := s.objects.Delete(c.Request().Context(), key); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type uploadItem struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

func (s *Server) recentUploads(c echo.Context) error {
	limit := parseLimit(c.QueryParam("limit"), 20, 100)
	ident := callerIdentity(c)

	prefix := storage.UploadKey(ident.Subject, "") + "/"
	objects, err := s.objects.List(c.Request().Context(), prefix)
	if err != nil {
		return err
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].LastModified.After(objects[j].LastModified)
	})
	if len(objects) > limit {
		objects = objects[:limit]
	}

	items := make([]uploadItem, 0, len(objects))
	for _, obj := range objects {
		items = append(items, uploadItem{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified})
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

// adminRecentUploads lists uploads across users with storage-side
// pagination via a continuation token.
func (s *Server) adminRecentUploads(c echo.Context) error {
	if err := requireAdmin(c); err != nil {
		return err
	}
	limit := parseLimit(c.QueryParam("limit"), 50, 1000)

	prefix := "users/"
	if ownerSub := c.QueryParam("ownerSub"); ownerSub != "" {
		prefix = storage.UploadKey(ownerSub, "") + "/"
	}

	objects, nextCt, truncated, err := s.listPage(c, prefix, int32(limit), c.QueryParam("ct"))
	if err != nil {
		return err
	}

	items := make([]uploadItem, 0, len(objects))
	for _, obj := range objects {
		items = append(items, uploadItem{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified})
	}
	resp := map[string]any{"items": items}
	if truncated {
		resp["isTruncated"] = true
		resp["nextCt"] = nextCt
	}
	return c.JSON(http.StatusOK, resp)
}

// pagedLister is implemented by object stores that support storage-side
// pagination. The concrete S3 client does; fakes may not.
type pagedLister interface {
	ListPage(ctx context.Context, prefix string, limit int32, continuation string) ([]storage.ObjectInfo, string, bool, error)
}

func (s *Server) listPage(c echo.Context, prefix string, limit int32, ct string) ([]storage.ObjectInfo, string, bool, error) {
	if pl, ok := s.objects.(pagedLister); ok {
		return pl.ListPage(c.Request().Context(), prefix, limit, ct)
	}
	objects, err := s.objects.List(c.Request().Context(), prefix)
	if err != nil {
		return nil, "", false, err
	}
	if int32(len(objects)) > limit {
		return objects[:limit], "", true, nil
	}
	return objects, "", false, nil
}

func parseLimit(raw string, fallback, ceiling int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	if n > ceiling {
		return ceiling
	}
	return n
}
