// Package api contains the HTTP handlers for synchronous processing,
// async task management, and operational endpoints.
package api
