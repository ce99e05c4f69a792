package db

import "github.com/orrn/printagent/internal/core"

// PrintCounter is the number of copies printed on one printer on one day.
type PrintCounter struct {
	Printer string `json:"printer"`
	Date    string `json:"date"`
	Count   int64  `json:"count"`
}

// RunDetail is a run together with its per-copy submissions.
type RunDetail struct {
	core.Run
	Submissions []core.Submission `json:"submissions"`
}

// RunStats counts runs by status.
type RunStats struct {
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}
