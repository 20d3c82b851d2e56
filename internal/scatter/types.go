package scatter

import (
	"time"

	"github.com/roach88/replicant/internal/ir"
)

// Request is the broadcast unit on the request channel.
type Request[Q any] struct {
	RequestID string               `json:"requestId"`
	ReplyTo   ir.TopicAndPartition `json:"replyTo"`
	Deadline  time.Time            `json:"deadline"`
	Query     Q                    `json:"query"`
}

// SearchResponse is the outcome of one Search call.
type SearchResponse[I any] struct {
	RequestID             string        `json:"requestId"`
	Items                 []I           `json:"items"`
	Elapsed               time.Duration `json:"elapsed"`
	BusinessDataWatermark ir.Watermark  `json:"businessDataWatermark"`
}

// Source yields the current business data. *pump.Live satisfies it.
type Source[B any] interface {
	Current() ir.BusinessData[B]
}
