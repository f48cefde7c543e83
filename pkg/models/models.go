package models

import "time"

// LoadResponse is returned by the notification endpoint once a load job has
// reached a terminal state.
type LoadResponse struct {
	JobId      string `json:"job_id"`
	Object     string `json:"object"`
	Table      string `json:"table"`
	RowsLoaded int64  `json:"rows_loaded"`
	Message    string `json:"message"`
}

// LoadJobEntry mirrors one row of the load-job ledger.
type LoadJobEntry struct {
	JobId          string     `json:"job_id"`
	SourceURI      string     `json:"source_uri"`
	Table          string     `json:"table"`
	Status         string     `json:"status"`
	RowsLoaded     int64      `json:"rows_loaded"`
	ErrorDetail    string     `json:"error_detail,omitempty"`
	CreationTime   time.Time  `json:"creation_time"`
	CompletionTime *time.Time `json:"completion_time,omitempty"`
}

type ListLoadJobsRequest struct {
	Status string `schema:"status"`
	Limit  int    `schema:"limit"`
}

type ListLoadJobsResponse struct {
	Jobs []LoadJobEntry `json:"jobs"`
}

// AcceptResponse acknowledges an envelope that was validated and queued for
// asynchronous loading.
type AcceptResponse struct {
	Object  string `json:"object"`
	Message string `json:"message"`
}

// NotificationTaskPayload carries one notification envelope through the queue
// for the worker deployment. The body is the same JSON the HTTP endpoint
// accepts.
type NotificationTaskPayload struct {
	Envelope []byte `json:"envelope"`
}
