// Package snapshot serializes thread execution state for migration
// between processes. The format is versioned and little-endian
// throughout, matching the in-memory word layout.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"flock/pkg/memory"
	"flock/pkg/types"
)

const formatVersion = 1

// ThreadImage is everything needed to resume a thread elsewhere: its
// identity, instruction pointer, operand stack and private local
// memory. Global memory is deliberately excluded; a migrated thread
// rebinds to the destination's global space.
type ThreadImage struct {
	ThreadID types.ThreadID
	IP       types.Word
	Stack    []types.Word
	Local    memory.ArenaImage
}

// Encode serializes the image.
//
// Layout: version u8, thread id u64, ip u64, stack length u32 followed
// by stack words bottom first, local capacity u64, region count u32,
// then per region base u64, word count u32 and the words.
func Encode(img ThreadImage) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(formatVersion)

	writeWord(&buf, types.Word(img.ThreadID))
	writeWord(&buf, img.IP)

	writeCount(&buf, len(img.Stack))
	for _, w := range img.Stack {
		writeWord(&buf, w)
	}

	writeWord(&buf, img.Local.Capacity)
	writeCount(&buf, len(img.Local.Regions))
	for _, r := range img.Local.Regions {
		writeWord(&buf, r.Base)
		writeCount(&buf, len(r.Words))
		for _, w := range r.Words {
			writeWord(&buf, w)
		}
	}
	return buf.Bytes(), nil
}

// Decode deserializes an image produced by Encode.
func Decode(data []byte) (ThreadImage, error) {
	r := &reader{data: data}

	version, err := r.byte()
	if err != nil {
		return ThreadImage{}, err
	}
	if version != formatVersion {
		return ThreadImage{}, fmt.Errorf("unsupported snapshot version %d", version)
	}

	var img ThreadImage
	tid, err := r.word()
	if err != nil {
		return ThreadImage{}, err
	}
	img.ThreadID = types.ThreadID(tid)

	if img.IP, err = r.word(); err != nil {
		return ThreadImage{}, err
	}

	stackLen, err := r.count(8)
	if err != nil {
		return ThreadImage{}, err
	}
	img.Stack = make([]types.Word, stackLen)
	for i := range img.Stack {
		if img.Stack[i], err = r.word(); err != nil {
			return ThreadImage{}, err
		}
	}

	if img.Local.Capacity, err = r.word(); err != nil {
		return ThreadImage{}, err
	}
	// A region is at least a base and a word count.
	regionCount, err := r.count(12)
	if err != nil {
		return ThreadImage{}, err
	}
	img.Local.Regions = make([]memory.RegionImage, regionCount)
	for i := range img.Local.Regions {
		if img.Local.Regions[i].Base, err = r.word(); err != nil {
			return ThreadImage{}, err
		}
		wordCount, err := r.count(8)
		if err != nil {
			return ThreadImage{}, err
		}
		img.Local.Regions[i].Words = make([]types.Word, wordCount)
		for j := range img.Local.Regions[i].Words {
			if img.Local.Regions[i].Words[j], err = r.word(); err != nil {
				return ThreadImage{}, err
			}
		}
	}

	if r.pos != len(r.data) {
		return ThreadImage{}, fmt.Errorf("snapshot has %d trailing bytes", len(r.data)-r.pos)
	}
	return img, nil
}

// Hash returns a content digest of an encoded image, used to verify
// snapshot integrity across a migration.
func Hash(data []byte) [32]byte {
	return blake2b.Sum256(data)
}

func writeWord(buf *bytes.Buffer, w types.Word) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(w))
	buf.Write(b[:])
}

func writeCount(buf *bytes.Buffer, n int) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(n))
	buf.Write(b[:])
}

type reader struct {
	data []byte
	pos  int
}

func (r *reader) byte() (byte, error) {
	if r.pos+1 > len(r.data) {
		return 0, fmt.Errorf("snapshot truncated at offset %d", r.pos)
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) word() (types.Word, error) {
	if r.pos+8 > len(r.data) {
		return 0, fmt.Errorf("snapshot truncated at offset %d", r.pos)
	}
	w := types.Word(binary.LittleEndian.Uint64(r.data[r.pos:]))
	r.pos += 8
	return w, nil
}

// count reads a length prefix and verifies the remaining input can
// hold that many elements of elemSize bytes, so a corrupt count fails
// before anything is allocated from it.
func (r *reader) count(elemSize int) (int, error) {
	if r.pos+4 > len(r.data) {
		return 0, fmt.Errorf("snapshot truncated at offset %d", r.pos)
	}
	n := int(binary.LittleEndian.Uint32(r.data[r.pos:]))
	r.pos += 4
	if int64(n)*int64(elemSize) > int64(len(r.data)-r.pos) {
		return 0, fmt.Errorf("snapshot count %d exceeds %d remaining bytes", n, len(r.data)-r.pos)
	}
	return n, nil
}
