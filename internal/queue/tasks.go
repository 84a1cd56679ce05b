package queue

// Task kinds routed to the pipeline stage handlers.
const (
	KindExtract = "extract"
	KindAnalyze = "analyze"
	KindDeliver = "deliver"
)

// ExtractPayload asks the extractor to process a submitted job's file.
type ExtractPayload struct {
	JobID string `json:"job_id"`
}

// AnalyzePayload asks the analysis stage to classify, compare, and decide
// over a job's extracted records.
type AnalyzePayload struct {
	JobID string `json:"job_id"`
}

// DeliverPayload asks the webhook dispatcher to deliver one decision event.
type DeliverPayload struct {
	DecisionID string `json:"decision_id"`
	EventType  string `json:"event_type"`
}
