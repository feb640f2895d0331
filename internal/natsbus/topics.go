package natsbus

import "fmt"

// Topic patterns for NATS pub/sub communication.

// TopicWorkerInvoke is the request/reply subject a worker process listens
// on for invocation requests.
func TopicWorkerInvoke(workerKey string) string {
	return fmt.Sprintf("worker.%s.invoke", workerKey)
}

// TopicRunEvents carries the ordered event feed of one run.
func TopicRunEvents(runID string) string {
	return fmt.Sprintf("runs.%s.events", runID)
}

const (
	TopicAllRunEvents = "runs.*.events"
)
