package segment

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"time"
)

// Reader gives access to a validated snapshot.
type Reader struct {
	filePath string
	header   Header
	dict     []string
	body     []byte
}

// OpenReader reads the snapshot at path and checks its magic, version and
// checksum. The file is not kept open.
func OpenReader(path string) (*Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot file: %w", err)
	}
	if len(data) < HeaderSize+FooterSize {
		return nil, fmt.Errorf("invalid snapshot file %s: truncated", path)
	}
	header := decodeHeader(data[:HeaderSize])
	if header.Magic != MagicBytes {
		return nil, fmt.Errorf("invalid snapshot file %s: bad magic bytes %x", path, header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", header.Version)
	}
	bodyEnd := header.BodyOffset + header.BodySize
	if header.DictSize < 0 || header.BodySize < 0 ||
		header.DictOffset != int64(HeaderSize) ||
		header.BodyOffset != header.DictOffset+header.DictSize ||
		bodyEnd+int64(FooterSize) != int64(len(data)) {
		return nil, fmt.Errorf("invalid snapshot file %s: inconsistent section offsets", path)
	}
	dictData := data[header.DictOffset:header.BodyOffset]
	body := data[header.BodyOffset:bodyEnd]
	footer := data[bodyEnd:]

	crc := crc32.NewIEEE()
	crc.Write(dictData)
	crc.Write(body)
	if want := binary.LittleEndian.Uint32(footer[0:4]); crc.Sum32() != want {
		return nil, fmt.Errorf("invalid snapshot file %s: checksum mismatch", path)
	}

	var dict []string
	if err := json.Unmarshal(dictData, &dict); err != nil {
		return nil, fmt.Errorf("parsing dictionary: %w", err)
	}
	if len(dict) != int(header.ItemCount) {
		return nil, fmt.Errorf("invalid snapshot file %s: dictionary has %d items, header says %d", path, len(dict), header.ItemCount)
	}
	return &Reader{
		filePath: path,
		header:   header,
		dict:     dict,
		body:     body,
	}, nil
}

// Sets decodes every item set in file order.
func (r *Reader) Sets() ([][]string, error) {
	sets := make([][]string, 0, r.header.SetCount)
	buf := bytes.NewReader(r.body)
	for i := range int(r.header.SetCount) {
		n, err := binary.ReadUvarint(buf)
		if err != nil {
			return nil, fmt.Errorf("reading set %d length: %w", i, err)
		}
		if n == 0 || n > uint64(len(r.dict)) {
			return nil, fmt.Errorf("set %d has invalid length %d", i, n)
		}
		set := make([]string, n)
		id := uint64(0)
		for j := range set {
			gap, err := binary.ReadUvarint(buf)
			if err != nil {
				return nil, fmt.Errorf("reading set %d item %d: %w", i, j, err)
			}
			id += gap
			if id >= uint64(len(r.dict)) {
				return nil, fmt.Errorf("set %d item %d: id %d out of range", i, j, id)
			}
			set[j] = r.dict[id]
		}
		sets = append(sets, set)
	}
	if buf.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after last set", buf.Len())
	}
	return sets, nil
}

func (r *Reader) SetCount() int { return int(r.header.SetCount) }

func (r *Reader) ItemCount() int { return len(r.dict) }

func (r *Reader) CreatedAt() time.Time { return time.Unix(r.header.CreatedAt, 0) }

func (r *Reader) Path() string { return r.filePath }
