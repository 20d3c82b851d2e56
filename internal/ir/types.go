package ir

import (
	"fmt"
	"strconv"
)

// Watermark identifies a position in one partition of an ordered log.
// Watermarks are assigned by the channel on publish and are strictly
// increasing within a partition.
type Watermark int64

// NoWatermark denotes an aggregate that has not folded any update yet.
const NoWatermark Watermark = -1

// Next returns the watermark immediately after w.
func (w Watermark) Next() Watermark {
	return w + 1
}

// String renders the watermark in decimal form.
func (w Watermark) String() string {
	return strconv.FormatInt(int64(w), 10)
}

// BusinessData is one immutable version of a materialized aggregate.
//
// A new BusinessData is produced for every applied update. Consumers receive
// values and must not mutate the payload.
type BusinessData[T any] struct {
	Payload   T         `json:"payload"`
	Watermark Watermark `json:"watermark"`
}

// Empty reports whether no update has been folded into the aggregate.
func (b BusinessData[T]) Empty() bool {
	return b.Watermark == NoWatermark
}

// Update is a domain delta read back from the log, stamped with the
// watermark the channel assigned to it.
type Update[U any] struct {
	Watermark Watermark `json:"watermark"`
	Payload   U         `json:"payload"`
}

// SeekKind selects where a subscription starts.
type SeekKind int

const (
	// SeekTail starts after the last message present at subscribe time.
	SeekTail SeekKind = iota
	// SeekWatermark starts at an explicit watermark (inclusive).
	SeekWatermark
)

// SeekPosition describes where a log subscription starts.
type SeekPosition struct {
	Kind      SeekKind
	Watermark Watermark
}

// Tail returns a position that only observes messages published after the
// subscription is established.
func Tail() SeekPosition {
	return SeekPosition{Kind: SeekTail, Watermark: NoWatermark}
}

// FromWatermark returns a position starting at w, inclusive.
// Negative watermarks are clamped to 0.
func FromWatermark(w Watermark) SeekPosition {
	if w < 0 {
		w = 0
	}
	return SeekPosition{Kind: SeekWatermark, Watermark: w}
}

// String renders the position for logs.
func (p SeekPosition) String() string {
	if p.Kind == SeekTail {
		return "tail"
	}
	return fmt.Sprintf("watermark:%d", p.Watermark)
}

// Message is one entry read from an ordered channel.
// RequestID is empty for uncorrelated messages.
type Message struct {
	Watermark Watermark
	RequestID string
	Payload   []byte
}

// RequestResponseMessage is the correlation unit for scatter-gather traffic.
// RequestID is assigned by the requester and echoed by every responder.
type RequestResponseMessage[P any] struct {
	Payload   P      `json:"payload"`
	RequestID string `json:"requestId"`
}

// TopicAndPartition addresses one partition of one topic.
type TopicAndPartition struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
}

// String renders the address as topic/partition.
func (tp TopicAndPartition) String() string {
	return fmt.Sprintf("%s/%d", tp.Topic, tp.Partition)
}

// StorageOffloadReference points at a payload stored out of band.
type StorageOffloadReference struct {
	RequestID string `json:"requestId"`
	Address   string `json:"address"`
}
