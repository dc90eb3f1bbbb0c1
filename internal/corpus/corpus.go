// Package corpus loads the item sets a forest is built from, either as JSON
// Lines or as a compiled snapshot, and builds the forest.
package corpus

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/corpus/segment"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/matcher"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/validator"
)

// Entry is one line of a JSONL corpus.
type Entry struct {
	ID    string   `json:"id,omitempty"`
	Items []string `json:"items"`
}

// Corpus is a loaded set of item sets plus the count of entries that were
// dropped as skippable input.
type Corpus struct {
	Sets    [][]string
	Skipped int
}

const maxLineSize = 16 << 20

// Load reads path, choosing the format by extension: segment.Extension is a
// snapshot, anything else is JSON Lines.
func Load(ctx context.Context, path string, maxItems int) (*Corpus, error) {
	if strings.EqualFold(filepath.Ext(path), segment.Extension) {
		r, err := segment.OpenReader(path)
		if err != nil {
			return nil, err
		}
		sets, err := r.Sets()
		if err != nil {
			return nil, fmt.Errorf("decoding snapshot %s: %w", path, err)
		}
		return &Corpus{Sets: sets}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening corpus %s: %w", path, err)
	}
	defer f.Close()
	return ReadJSONL(ctx, f, maxItems)
}

// ReadJSONL parses one Entry per line. Blank lines are ignored; malformed or
// invalid entries are logged and counted as skipped.
func ReadJSONL(ctx context.Context, r io.Reader, maxItems int) (*Corpus, error) {
	logger := slog.Default().With("component", "corpus")
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	c := &Corpus{}
	line := 0
	for sc.Scan() {
		line++
		if line%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			c.Skipped++
			logger.Warn("skipping malformed corpus entry", "line", line, "error", err)
			continue
		}
		if err := validator.Validate(e.ID, e.Items, maxItems); err != nil {
			c.Skipped++
			logger.Warn("skipping invalid corpus entry", "line", line, "error", err)
			continue
		}
		c.Sets = append(c.Sets, e.Items)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading corpus line %d: %w", line+1, err)
	}
	return c, nil
}

// Build indexes the corpus with the natural string order.
func (c *Corpus) Build() (*matcher.Forest[string], error) {
	f, skipped, err := matcher.BuildForest(matcher.Ordered[string](), c.Sets)
	if err != nil {
		return nil, err
	}
	c.Skipped += skipped
	return f, nil
}

// Compile loads the corpus at src and writes it as a snapshot to dst.
func Compile(ctx context.Context, src, dst string, maxItems int) (segment.Header, int, error) {
	c, err := Load(ctx, src, maxItems)
	if err != nil {
		return segment.Header{}, 0, err
	}
	header, err := segment.NewWriter(dst).Write(c.Sets)
	if err != nil {
		return segment.Header{}, 0, err
	}
	return header, c.Skipped, nil
}
