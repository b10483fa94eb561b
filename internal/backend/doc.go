// Package backend defines the contract between the orchestration core
// and downstream inference services: the request/response types, the
// Backend interface, and the error taxonomy the fallback controller
// uses to distinguish retriable from non-retriable failures.
//
// Concrete implementations live in subpackages (gemini, httpapi);
// Static in this package is a canned backend for tests and local
// development.
package backend
