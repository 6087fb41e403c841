// Package services holds the shared error taxonomy and context annotations
// used by the pipeline stages, the worker loop, and the HTTP gateway.
package services
