package snapshot

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"flock/pkg/memory"
	"flock/pkg/types"
)

func testImage() ThreadImage {
	return ThreadImage{
		ThreadID: 7,
		IP:       42,
		Stack:    []types.Word{1, 2, 1 << 63},
		Local: memory.ArenaImage{
			Capacity: 4096,
			Regions: []memory.RegionImage{
				{Base: 0, Words: []types.Word{10, 20, 30}},
				{Base: 64, Words: []types.Word{0xDEADBEEF}},
			},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	img := testImage()

	data, err := Encode(img)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if diff := cmp.Diff(img, decoded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeEmptyImage(t *testing.T) {
	img := ThreadImage{ThreadID: 1, Stack: []types.Word{}, Local: memory.ArenaImage{Regions: []memory.RegionImage{}}}

	data, err := Encode(img)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.ThreadID != 1 || len(decoded.Stack) != 0 || len(decoded.Local.Regions) != 0 {
		t.Errorf("unexpected decoded image: %+v", decoded)
	}
}

func TestDecodeRejectsTruncation(t *testing.T) {
	data, err := Encode(testImage())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	for _, n := range []int{0, 1, 8, len(data) / 2, len(data) - 1} {
		if _, err := Decode(data[:n]); err == nil {
			t.Errorf("expected an error decoding %d of %d bytes", n, len(data))
		}
	}
}

func TestDecodeRejectsOversizedCounts(t *testing.T) {
	header := func() []byte {
		// version, thread id, ip.
		return append([]byte{1}, make([]byte, 16)...)
	}

	cases := []struct {
		name string
		data []byte
	}{
		{"stack count", append(header(), 0x00, 0x00, 0x00, 0x10)},
		{"max stack count", append(header(), 0xFF, 0xFF, 0xFF, 0xFF)},
		{"region count", append(append(header(),
			0, 0, 0, 0, // empty stack
			0, 0, 0, 0, 0, 0, 0, 0), // capacity
			0xFF, 0xFF, 0xFF, 0xFF)},
		{"region word count", append(append(header(),
			0, 0, 0, 0, // empty stack
			0, 0, 0, 0, 0, 0, 0, 0, // capacity
			1, 0, 0, 0, // one region
			0, 0, 0, 0, 0, 0, 0, 0), // base
			0xFF, 0xFF, 0xFF, 0x7F)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// The declared count must be rejected against the bytes
			// actually present, not allocated on faith.
			if _, err := Decode(tc.data); err == nil {
				t.Error("expected an error for a count exceeding the input")
			}
		})
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	data, err := Encode(testImage())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := Decode(append(data, 0)); err == nil {
		t.Error("expected an error with trailing bytes")
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	data, err := Encode(testImage())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	data[0] = 99
	if _, err := Decode(data); err == nil {
		t.Error("expected an error for an unknown version")
	}
}

func TestHashChangesWithContent(t *testing.T) {
	a, err := Encode(testImage())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	img := testImage()
	img.IP++
	b, err := Encode(img)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if Hash(a) == Hash(b) {
		t.Error("expected different digests for different images")
	}
	if Hash(a) != Hash(a) {
		t.Error("expected a stable digest")
	}
}
