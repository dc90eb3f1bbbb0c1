package source

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLReadsAndSkips(t *testing.T) {
	input := strings.Join([]string{
		`{"id":"t1","items":["A","B"]}`,
		``,
		`{"items":["C"]}`,
		`not json`,
		`{"id":"t5","items":[]}`,
	}, "\n")
	s := NewJSONL(strings.NewReader(input), 0)
	ctx := context.Background()

	tx, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, Transaction{ID: "t1", Items: []string{"A", "B"}}, tx)

	tx, err = s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "3", tx.ID)

	_, err = s.Next(ctx)
	assert.True(t, apperrors.IsSkippable(err))

	_, err = s.Next(ctx)
	assert.True(t, apperrors.IsSkippable(err))

	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestSliceHonorsContext(t *testing.T) {
	s := NewSlice([]Transaction{{ID: "a", Items: []string{"x"}}})
	assert.Equal(t, 1, s.Len())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeFetcher struct {
	msgs      []kafka.Message
	failFirst int
	committed []int64
}

func (f *fakeFetcher) Fetch(ctx context.Context) (kafka.Message, error) {
	if f.failFirst > 0 {
		f.failFirst--
		return kafka.Message{}, errors.New("leader not available")
	}
	if len(f.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func (f *fakeFetcher) Commit(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func message(t *testing.T, offset int64, key string, tx Transaction) kafka.Message {
	t.Helper()
	value, err := json.Marshal(tx)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Key: []byte(key), Value: value}
}

func TestKafkaCommitsAfterHandOff(t *testing.T) {
	f := &fakeFetcher{
		failFirst: 1,
		msgs: []kafka.Message{
			message(t, 10, "k1", Transaction{Items: []string{"A"}}),
			{Offset: 11, Value: []byte("{")},
			message(t, 12, "", Transaction{ID: "t3", Items: []string{"B"}}),
		},
	}
	s := NewKafka(f, 0)
	s.retry = resilience.RetryConfig{MaxAttempts: 2, InitialDelay: 1}
	ctx := context.Background()

	tx, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "k1", tx.ID)
	assert.Empty(t, f.committed)

	_, err = s.Next(ctx)
	assert.True(t, apperrors.IsSkippable(err))
	assert.Equal(t, []int64{10}, f.committed)

	tx, err = s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t3", tx.ID)

	require.NoError(t, s.Close(ctx))
	assert.Equal(t, []int64{10, 11, 12}, f.committed)
}
