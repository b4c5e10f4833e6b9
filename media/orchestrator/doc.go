// Package orchestrator routes generation requests to video adapters and
// post-processes their results.
//
// Submit failures always reach the caller. Poll failures that the
// TransientErrorClassifier accepts are reported as a processing status, so
// clients keep polling through vendor hiccups. When a task succeeds the
// asset is relocated into object storage before the status is returned.
package orchestrator
