package gateway

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"fivecut/internal/queue"
	"fivecut/internal/services"
)

// statusLogTail is the number of log lines returned by the status endpoint.
const statusLogTail = 50

type createEditRequest struct {
	Key     string        `json:"key"`
	Options queue.Options `json:"options"`
}

func (s *Server) createEdit(c echo.Context) error {
	var req createEditRequest
	if err := c.Bind(&req); err != nil || req.Key == "" {
		return services.Wrap(services.ErrValidation, "", "bind", "key required", err)
	}
	if err := authorizeKey(c, req.Key); err != nil {
		return err
	}

	ident := callerIdentity(c)
	job, err := s.store.Enqueue(c.Request().Context(), queue.EnqueueParams{
		OwnerSub:  ident.Subject,
		SourceKey: req.Key,
		Options:   req.Options,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"jobId": job.ID})
}

// loadOwnedJob fetches the job and enforces that the caller owns it or is
// an admin.
func (s *Server) loadOwnedJob(c echo.Context) (*queue.Job, error) {
	job, err := s.store.GetByID(c.Request().Context(), c.Param("jobID"))
	if err != nil {
		return nil, err
	}
	ident := callerIdentity(c)
	if !ident.Admin && job.OwnerSub != ident.Subject {
		return nil, services.Wrap(services.ErrForbidden, "", "authorize", "job belongs to another user", nil)
	}
	return job, nil
}

func (s *Server) editStatus(c echo.Context) error {
	job, err := s.loadOwnedJob(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"id":           job.ID,
		"status":       job.Status,
		"outputKey":    job.OutputKey,
		"jsonKey":      job.JSONKey,
		"detectMp4Key": job.DetectMP4Key,
		"error":        job.ErrorMessage,
		"logs":         job.LogTail(statusLogTail),
	})
}

func (s *Server) cancelEdit(c echo.Context) error {
	job, err := s.loadOwnedJob(c)
	if err != nil {
		return err
	}
	outcome, err := s.store.RequestCancel(c.Request().Context(), job.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"ok":              true,
		"canceled":        outcome.Canceled,
		"already_started": outcome.AlreadyStarted,
	})
}
