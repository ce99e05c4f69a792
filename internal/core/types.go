package core

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// WorkUnit is the decoded result of one poll. Both fields nil means there
// is no work.
type WorkUnit struct {
	Command *InlineCommand `json:"cmd,omitempty"`
	Order   *RemoteOrder   `json:"order,omitempty"`
}

func (w *WorkUnit) Empty() bool {
	return w == nil || (w.Command == nil && w.Order == nil)
}

// InlineCommand carries a document inline in the poll response.
type InlineCommand struct {
	ID       string          `json:"id,omitempty"`
	Filename string          `json:"filename,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// RemoteOrder references a stored document to be printed once per copy.
type RemoteOrder struct {
	ID        string        `json:"id"`
	ProductID string        `json:"productId"`
	HasCover  bool          `json:"hasCover,omitempty"`
	CopyCount *int          `json:"copyCount,omitempty"`
	Serials   []SerialEntry `json:"serials,omitempty"`
}

// SerialEntry is one per-copy mark. The service sends either
// {"serial":"S1"} or a bare "S1".
type SerialEntry struct {
	Serial string `json:"serial"`
}

func (s *SerialEntry) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		s.Serial = str
		return nil
	}
	var obj struct {
		Serial string `json:"serial"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("serial entry: %w", err)
	}
	s.Serial = obj.Serial
	return nil
}

// Download is an open document stream returned by the remote service.
type Download struct {
	Body               io.ReadCloser
	ContentDisposition string
}

// FetchedDocument is a validated document on local scratch storage. The
// sequence that fetched it owns the file and must delete it.
type FetchedDocument struct {
	Path     string
	Filename string
}

// Action is a remote order state transition.
type Action string

const (
	ActionDownloadStart Action = "downloadstart"
	ActionDownloadEnd   Action = "downloadend"
	ActionPrintEnd      Action = "printend"
	ActionDownloadError Action = "downloaderror"
)

// PrinterOption is one line of printer options introspection output.
type PrinterOption struct {
	Key         string   `json:"key"`
	Description string   `json:"description"`
	Default     string   `json:"default"`
	Choices     []string `json:"choices"`
}

type RunKind string

const (
	RunKindCommand RunKind = "command"
	RunKindOrder   RunKind = "order"
)

type RunStatus string

const (
	RunStatusProcessing RunStatus = "processing"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// Run is the journal record of one executed work unit.
type Run struct {
	ID          int64      `json:"id"`
	Kind        RunKind    `json:"kind"`
	OrderID     string     `json:"order_id,omitempty"`
	ProductID   string     `json:"product_id,omitempty"`
	Copies      int        `json:"copies"`
	Status      RunStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type SubmissionStatus string

const (
	SubmissionPrinted SubmissionStatus = "printed"
	SubmissionFailed  SubmissionStatus = "failed"
)

// Submission is the journal record of one copy handed to the printer.
type Submission struct {
	ID        int64            `json:"id"`
	RunID     int64            `json:"run_id"`
	CopyIndex int              `json:"copy_index"`
	Serial    string           `json:"serial,omitempty"`
	Printer   string           `json:"printer"`
	JobID     string           `json:"job_id,omitempty"`
	Status    SubmissionStatus `json:"status"`
	Error     string           `json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}
