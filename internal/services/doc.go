// Package services defines the error taxonomy and context annotations shared
// by the orchestrator, scheduler, workflow, and broker components. Every error
// that crosses a component boundary is tagged with one of the sentinel markers
// here so the scheduler can decide between requeue-with-backoff and terminal
// failure without inspecting component internals.
package services
