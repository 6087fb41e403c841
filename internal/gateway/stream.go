package gateway

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"fivecut/internal/services"
)

// defaultStreamWindow caps open-ended ranges so one request never pins the
// whole object.
const defaultStreamWindow int64 = 8 << 20

// byteRange is the resolved inclusive window of a Range request.
type byteRange struct {
	start int64
	end   int64
}

func (r byteRange) length() int64 {
	return r.end - r.start + 1
}

// parseRange resolves a Range header of the form bytes=start-end, bytes=start-,
// or bytes=-suffix against the object size. A nil result with nil error means
// no range was requested.
func parseRange(header string, total int64) (*byteRange, error) {
	if header == "" {
		return nil, nil
	}
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return nil, services.Wrap(services.ErrUnsatisfiableRange, "", "range", "malformed range", nil)
	}
	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return nil, services.Wrap(services.ErrUnsatisfiableRange, "", "range", "malformed range", nil)
	}

	if startStr == "" {
		// bytes=-suffix: the last suffix bytes, clamped to the object.
		suffix, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || suffix <= 0 {
			return nil, services.Wrap(services.ErrUnsatisfiableRange, "", "range", "malformed suffix range", err)
		}
		if suffix > total {
			suffix = total
		}
		if suffix == 0 {
			return nil, services.Wrap(services.ErrUnsatisfiableRange, "", "range", "empty object", nil)
		}
		return &byteRange{start: total - suffix, end: total - 1}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return nil, services.Wrap(services.ErrUnsatisfiableRange, "", "range", "malformed range start", err)
	}
	if start >= total {
		return nil, services.Wrap(services.ErrUnsatisfiableRange, "", "range", "start beyond object", nil)
	}

	if endStr == "" {
		// bytes=start-: open end, capped to a bounded window.
		end := start + defaultStreamWindow - 1
		if end > total-1 {
			end = total - 1
		}
		return &byteRange{start: start, end: end}, nil
	}

	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return nil, services.Wrap(services.ErrUnsatisfiableRange, "", "range", "malformed range end", err)
	}
	if end > total-1 {
		end = total - 1
	}
	return &byteRange{start: start, end: end}, nil
}

// streamVideo serves authorized byte-range video delivery. HEAD returns the
// same headers as GET without a body. Accept-Ranges and a permissive origin
// header are always set.
func (s *Server) streamVideo(c echo.Context) error {
	key := c.Param("*")
	if key == "" {
		return services.Wrap(services.ErrValidation, "", "bind", "key required", nil)
	}
	if err := authorizeKey(c, key); err != nil {
		return err
	}

	ctx := c.Request().Context()
	info, err := s.objects.Head(ctx, key)
	if err != nil {
		return err
	}

	contentType := info.ContentType
	if contentType == "" {
		contentType = "video/mp4"
	}
	header := c.Response().Header()
	header.Set("Accept-Ranges", "bytes")
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set(echo.HeaderContentType, contentType)

	rng, err := parseRange(c.Request().Header.Get("Range"), info.Size)
	if err != nil {
		header.Set("Content-Range", fmt.Sprintf("bytes */%d", info.Size))
		return err
	}

	status := http.StatusOK
	length := info.Size
	if rng != nil {
		status = http.StatusPartialContent
		length = rng.length()
		header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.start, rng.end, info.Size))
	}
	header.Set(echo.HeaderContentLength, strconv.FormatInt(length, 10))

	if c.Request().Method == http.MethodHead {
		return c.NoContent(status)
	}

	if info.Size == 0 {
		return c.NoContent(status)
	}

	start, end := int64(0), info.Size-1
	if rng != nil {
		start, end = rng.start, rng.end
	}
	body, err := s.objects.GetRange(ctx, key, start, end)
	if err != nil {
		return err
	}
	defer body.Close()

	c.Response().WriteHeader(status)
	_, err = io.Copy(c.Response(), body)
	return err
}
