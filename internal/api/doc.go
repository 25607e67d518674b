// Package api contains the HTTP transport layer: request/response DTOs,
// chi handlers for the task endpoints, and the mapping from internal errors
// to HTTP status codes and client-safe messages.
package api
