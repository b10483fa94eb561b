// Package task defines the task model shared by the worker pools,
// the async queue, and the orchestrator: task kinds, lifecycle
// statuses with their legal transitions, and the payload envelope.
package task
