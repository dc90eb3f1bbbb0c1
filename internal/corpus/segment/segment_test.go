package segment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus"+Extension)
	header, err := NewWriter(path).Write([][]string{
		{"C", "A", "B"},
		{},
		{"B", "B"},
		{"D"},
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(3), header.SetCount)
	assert.Equal(t, uint32(4), header.ItemCount)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	r, err := OpenReader(path)
	require.NoError(t, err)
	assert.Equal(t, 3, r.SetCount())
	assert.Equal(t, 4, r.ItemCount())

	sets, err := r.Sets()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"A", "B", "C"}, {"B"}, {"D"}}, sets)
}

func TestRejectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus"+Extension)
	_, err := NewWriter(path).Write([][]string{{"A", "B"}})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	flipped := append([]byte(nil), data...)
	flipped[HeaderSize+2] ^= 0xFF
	require.NoError(t, os.WriteFile(path, flipped, 0644))
	_, err = OpenReader(path)
	assert.ErrorContains(t, err, "checksum mismatch")

	badMagic := append([]byte(nil), data...)
	badMagic[0] = 0
	require.NoError(t, os.WriteFile(path, badMagic, 0644))
	_, err = OpenReader(path)
	assert.ErrorContains(t, err, "bad magic")

	require.NoError(t, os.WriteFile(path, data[:HeaderSize], 0644))
	_, err = OpenReader(path)
	assert.ErrorContains(t, err, "truncated")
}

func TestWriteRejectsEmptyCorpus(t *testing.T) {
	_, err := NewWriter(filepath.Join(t.TempDir(), "x"+Extension)).Write([][]string{{}, nil})
	require.Error(t, err)
}
