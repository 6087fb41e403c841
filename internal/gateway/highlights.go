package gateway

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"fivecut/internal/pipeline"
	"fivecut/internal/queue"
	"fivecut/internal/services"
	"fivecut/internal/storage"
)

const byJerseySegment = "/highlighter/highlights/by_jersey/"

type highlightClip struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	URL          string    `json:"url,omitempty"`
}

// highlightJobs lists the caller's jobs that produced highlight clips.
func (s *Server) highlightJobs(c echo.Context) error {
	ident := callerIdentity(c)
	ctx := c.Request().Context()

	jobs, err := s.store.ListByOwner(ctx, ident.Subject, 0)
	if err != nil {
		return err
	}

	items := make([]map[string]any, 0)
	for _, job := range jobs {
		if job.Status != queue.StatusFinished {
			continue
		}
		clips, err := s.listJobClips(c, job)
		if err != nil {
			return err
		}
		if len(clips) == 0 {
			continue
		}
		items = append(items, map[string]any{
			"jobId":     job.ID,
			"outputKey": job.OutputKey,
			"clipCount": len(clips),
			"createdAt": job.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

// highlightsByJersey groups one job's highlight clips by their jersey and
// team-color label. With presign=1 each clip also carries a time-limited
// download URL.
func (s *Server) highlightsByJersey(c echo.Context) error {
	jobID := c.QueryParam("jobId")
	if jobID == "" {
		return services.Wrap(services.ErrValidation, "", "bind", "jobId required", nil)
	}

	ctx := c.Request().Context()
	job, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	ident := callerIdentity(c)
	if !ident.Admin && job.OwnerSub != ident.Subject {
		return services.Wrap(services.ErrForbidden, "", "authorize", "job belongs to another user", nil)
	}

	clips, err := s.listJobClips(c, job)
	if err != nil {
		return err
	}

	presign := c.QueryParam("presign") == "1" || c.QueryParam("presign") == "true"
	groups := make(map[string][]highlightClip)
	for _, obj := range clips {
		group := clipGroup(obj.Key)
		if group == "" || !pipeline.KeepHighlightGroup(group) {
			continue
		}
		clip := highlightClip{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified}
		if presign {
			url, err := s.objects.PresignGet(ctx, obj.Key, defaultPresignExpiry, "")
			if err != nil {
				return err
			}
			clip.URL = url
		}
		groups[group] = append(groups[group], clip)
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]map[string]any, 0, len(names))
	for _, name := range names {
		out = append(out, map[string]any{"group": name, "clips": groups[name]})
	}
	return c.JSON(http.StatusOK, map[string]any{"jobId": job.ID, "groups": out})
}

func (s *Server) listJobClips(c echo.Context, job *queue.Job) ([]storage.ObjectInfo, error) {
	prefix := storage.ExportPrefix(job.OwnerSub, job.ID) + "highlighter/highlights/by_jersey/"
	return s.objects.List(c.Request().Context(), prefix)
}

// clipGroup extracts the by_jersey group directory from a clip key.
func clipGroup(key string) string {
	idx := strings.Index(key, byJerseySegment)
	if idx < 0 {
		return ""
	}
	rest := key[idx+len(byJerseySegment):]
	group, _, ok := strings.Cut(rest, "/")
	if !ok {
		return ""
	}
	return group
}
