// Package topicclass classifies topic strings into the fixed set of
// publish/poll-guard classes the broker treats differently for rate
// limiting and payload ceilings.
//
// It has no direct teacher analog (see DESIGN.md); it is implemented
// with the standard library's regexp since no library in the retrieval
// pack offers string pattern routing better suited to this
// single-predicate classification than the standard library.
package topicclass

import "regexp"

// Class identifies which guard configuration a topic falls under.
type Class string

const (
	ClassRunEvents        Class = "run_events"
	ClassWorkerLifecycle  Class = "worker_lifecycle"
	ClassCodexWorkerEvents Class = "codex_worker_events"
	ClassFallback         Class = "fallback"
)

var (
	runEventsPattern       = regexp.MustCompile(`^run:[^:]+:events$`)
	workerLifecyclePattern = regexp.MustCompile(`^worker:[^:]+:lifecycle$`)
)

const codexWorkerEventsTopic = "codex_worker_events"

// Classify returns the Class a topic string belongs to. Unrecognized
// topic shapes fall back to ClassFallback, which still receives a
// guard configuration (never an unmoderated bypass).
func Classify(topic string) Class {
	switch {
	case runEventsPattern.MatchString(topic):
		return ClassRunEvents
	case workerLifecyclePattern.MatchString(topic):
		return ClassWorkerLifecycle
	case topic == codexWorkerEventsTopic:
		return ClassCodexWorkerEvents
	default:
		return ClassFallback
	}
}
