package ingest

import "errors"

// Client-visible error codes. The HTTP layer matches on these to pick status
// codes, and the strings surface verbatim in API error payloads.
var (
	ErrFileTooLarge    = errors.New("FILE_TOO_LARGE")
	ErrUnsupportedType = errors.New("UNSUPPORTED_TYPE")
	ErrUploadNotFound  = errors.New("UPLOAD_NOT_FOUND")
	ErrSSRFBlocked     = errors.New("SSRF_BLOCKED")
	ErrDownloadFailed  = errors.New("DOWNLOAD_ERROR")
)
