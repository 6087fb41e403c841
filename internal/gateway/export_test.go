package gateway

var (
	SanitizeFilename = sanitizeFilename
	NormalizeETag    = normalizeETag
)
