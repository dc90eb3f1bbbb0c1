// Package segment reads and writes corpus snapshots: a compiled, checksummed
// binary form of a corpus that loads without JSON parsing of every set.
//
// Layout (little endian):
//
//	[0:64)   header: magic, version, set count, item count, created at,
//	         dict offset/size, body offset/size
//	dict     JSON array of the distinct items, sorted
//	body     per set: uvarint length, then uvarint deltas of dict ids
//	footer   16 bytes: CRC32 (IEEE) over dict and body, set count
package segment

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/matcher"
)

// Extension is the file extension corpus snapshots use.
const Extension = ".smcs"

const (
	MagicBytes    uint32 = 0x53434D53 // "SMCS"
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	FooterSize    int    = 16
)

// Header is the fixed-size block at the start of every snapshot.
type Header struct {
	Magic      uint32
	Version    uint32
	SetCount   uint32
	ItemCount  uint32
	CreatedAt  int64
	DictOffset int64
	DictSize   int64
	BodyOffset int64
	BodySize   int64
}

func (h Header) encode() []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.SetCount)
	binary.LittleEndian.PutUint32(b[12:16], h.ItemCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.DictOffset))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.DictSize))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.BodyOffset))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.BodySize))
	return b
}

func decodeHeader(b []byte) Header {
	return Header{
		Magic:      binary.LittleEndian.Uint32(b[0:4]),
		Version:    binary.LittleEndian.Uint32(b[4:8]),
		SetCount:   binary.LittleEndian.Uint32(b[8:12]),
		ItemCount:  binary.LittleEndian.Uint32(b[12:16]),
		CreatedAt:  int64(binary.LittleEndian.Uint64(b[16:24])),
		DictOffset: int64(binary.LittleEndian.Uint64(b[24:32])),
		DictSize:   int64(binary.LittleEndian.Uint64(b[32:40])),
		BodyOffset: int64(binary.LittleEndian.Uint64(b[40:48])),
		BodySize:   int64(binary.LittleEndian.Uint64(b[48:56])),
	}
}

// Writer compiles item sets into one snapshot file.
type Writer struct {
	path string
}

func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Write sorts and deduplicates every set, drops empty ones and writes the
// snapshot atomically: to a .tmp file first, renamed on success.
func (w *Writer) Write(sets [][]string) (Header, error) {
	compare := matcher.Ordered[string]()
	normalized := make([][]string, 0, len(sets))
	var all []string
	for _, set := range sets {
		s := matcher.Normalize(compare, set)
		if len(s) == 0 {
			continue
		}
		normalized = append(normalized, s)
		all = append(all, s...)
	}
	if len(normalized) == 0 {
		return Header{}, fmt.Errorf("cannot write empty corpus snapshot")
	}
	dict := matcher.Normalize(compare, all)

	dictData, err := json.Marshal(dict)
	if err != nil {
		return Header{}, fmt.Errorf("marshaling dictionary: %w", err)
	}
	body := encodeSets(normalized, dict)

	header := Header{
		Magic:      MagicBytes,
		Version:    FormatVersion,
		SetCount:   uint32(len(normalized)),
		ItemCount:  uint32(len(dict)),
		CreatedAt:  time.Now().Unix(),
		DictOffset: int64(HeaderSize),
		DictSize:   int64(len(dictData)),
		BodyOffset: int64(HeaderSize + len(dictData)),
		BodySize:   int64(len(body)),
	}
	crc := crc32.NewIEEE()
	crc.Write(dictData)
	crc.Write(body)
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc.Sum32())
	binary.LittleEndian.PutUint32(footer[4:8], header.SetCount)

	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return Header{}, fmt.Errorf("creating snapshot directory: %w", err)
	}
	tmpPath := w.path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return Header{}, fmt.Errorf("creating temp snapshot file: %w", err)
	}
	defer os.Remove(tmpPath)
	defer f.Close()

	bw := bufio.NewWriter(f)
	for _, part := range [][]byte{header.encode(), dictData, body, footer} {
		if _, err := bw.Write(part); err != nil {
			return Header{}, fmt.Errorf("writing snapshot: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return Header{}, fmt.Errorf("writing snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		return Header{}, fmt.Errorf("syncing snapshot file: %w", err)
	}
	if err := f.Close(); err != nil {
		return Header{}, fmt.Errorf("closing snapshot file: %w", err)
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		return Header{}, fmt.Errorf("renaming snapshot file: %w", err)
	}
	return header, nil
}

// encodeSets writes each set as its length followed by the gaps between
// consecutive dictionary ids. Sets and dict are sorted by the same order, so
// every gap after the first is positive.
func encodeSets(sets [][]string, dict []string) []byte {
	var out []byte
	for _, set := range sets {
		out = binary.AppendUvarint(out, uint64(len(set)))
		prev := 0
		for _, item := range set {
			id, _ := slices.BinarySearch(dict, item)
			out = binary.AppendUvarint(out, uint64(id-prev))
			prev = id
		}
	}
	return out
}

