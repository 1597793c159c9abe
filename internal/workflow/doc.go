// Package workflow drives the per-share enhancement state machine. After a
// successful fetch the controller classifies the content, queues a cheap
// fast-track embedding so the item is searchable immediately, and walks the
// selected strategy's phases (download, transcription, summary, embedding)
// by publishing ML tasks and consuming their result callbacks. Every phase
// transition is persisted before and after the external call, so a crash
// mid-phase resumes from the last durable checkpoint instead of restarting
// the share.
package workflow
