// Package sink provides the single-writer destinations that receive match
// records. Every implementation serializes Append calls and assigns row ids
// inside the same critical section as the write, so ids are unique and
// gap-free no matter how many match tasks run concurrently.
package sink

import (
	"context"
	"fmt"
	"strings"
)

// Record is one output row: a matched item set for one transaction.
type Record struct {
	RowID         int64    `json:"row_id"`
	TransactionID string   `json:"transaction_id"`
	Source        []string `json:"source,omitempty"`
	Items         []string `json:"items"`
	Mismatches    int      `json:"mismatches"`
}

// Sink is an append-only destination for match records.
type Sink interface {
	// Append writes records as one unit and sets their RowID fields.
	Append(ctx context.Context, records []Record) error
	// Close flushes buffered records. It must only be called after the
	// last Append has returned.
	Close(ctx context.Context) error
}

// sequence hands out row ids. It is not synchronized; callers hold the sink
// lock.
type sequence struct {
	last int64
}

// assign numbers records after the last committed id without committing.
func (s *sequence) assign(records []Record) {
	for i := range records {
		records[i].RowID = s.last + int64(i) + 1
	}
}

func (s *sequence) commit(n int) {
	s.last += int64(n)
}

// Kind names a sink implementation in configuration.
type Kind string

const (
	KindMemory   Kind = "memory"
	KindJSONL    Kind = "jsonl"
	KindPostgres Kind = "postgres"
	KindKafka    Kind = "kafka"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindMemory, KindJSONL, KindPostgres, KindKafka:
		return k, nil
	case "":
		return KindJSONL, nil
	default:
		return "", fmt.Errorf("unknown sink kind %q", s)
	}
}
