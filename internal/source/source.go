// Package source provides the transaction streams the scheduler drains: an
// in-memory slice, a JSON Lines reader and a Kafka topic.
package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/matcher"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/errors"
)

// Transaction is the concrete transaction type every source yields.
type Transaction = matcher.Transaction[string]

// Slice yields a fixed list of transactions.
type Slice struct {
	txs []Transaction
	pos int
}

func NewSlice(txs []Transaction) *Slice {
	return &Slice{txs: txs}
}

func (s *Slice) Next(ctx context.Context) (Transaction, error) {
	if err := ctx.Err(); err != nil {
		return Transaction{}, err
	}
	if s.pos >= len(s.txs) {
		return Transaction{}, io.EOF
	}
	tx := s.txs[s.pos]
	s.pos++
	return tx, nil
}

func (s *Slice) Len() int { return len(s.txs) }

const maxLineSize = 16 << 20

// JSONL reads one {"id", "items"} object per line. Blank lines are ignored.
// A transaction without an id is named after its 1-based line number.
type JSONL struct {
	scanner  *bufio.Scanner
	closer   io.Closer
	line     int
	maxItems int
}

func NewJSONL(r io.Reader, maxItems int) *JSONL {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &JSONL{scanner: sc, maxItems: maxItems}
}

// OpenJSONL opens path for reading; "-" reads stdin.
func OpenJSONL(path string, maxItems int) (*JSONL, error) {
	if path == "-" {
		return NewJSONL(os.Stdin, maxItems), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening transactions %s: %w", path, err)
	}
	s := NewJSONL(f, maxItems)
	s.closer = f
	return s, nil
}

func (s *JSONL) Next(ctx context.Context) (Transaction, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Transaction{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return Transaction{}, fmt.Errorf("reading line %d: %w", s.line+1, err)
			}
			return Transaction{}, io.EOF
		}
		s.line++
		raw := s.scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var tx Transaction
		if err := json.Unmarshal(raw, &tx); err != nil {
			return Transaction{}, apperrors.Skippable("line %d: %v", s.line, err)
		}
		if tx.ID == "" {
			tx.ID = strconv.Itoa(s.line)
		}
		if err := validator.Validate(tx.ID, tx.Items, s.maxItems); err != nil {
			return Transaction{}, fmt.Errorf("line %d: %w", s.line, err)
		}
		return tx, nil
	}
}

func (s *JSONL) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
