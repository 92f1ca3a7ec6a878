// Package sfnt decodes WOFF2 font containers and reads the handful of
// OpenType tables the font acceptance policy inspects: name, cmap, OS/2,
// head and GSUB.
//
// Only the table directory and the brotli-compressed table stream are
// decoded.  Transformed glyf/loca/hmtx data is kept as-is (it is never
// inspected), so no glyph reconstruction takes place.
package sfnt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

// Magic is the WOFF2 signature.
var Magic = []byte("wOF2")

const (
	woff2HeaderSize = 48
	flavorTTC       = 0x74746366 // 'ttcf'

	// maxDecodedSize bounds the decompressed table stream.
	maxDecodedSize = 64 << 20
)

var (
	// ErrNotWOFF2 is returned when the input does not start with Magic.
	ErrNotWOFF2 = errors.New("sfnt: not a WOFF2 file")
	// ErrCollection is returned for WOFF2 font collections.
	ErrCollection = errors.New("sfnt: font collections are not supported")
	// ErrTruncated is returned when a structure runs past its buffer.
	ErrTruncated = errors.New("sfnt: truncated data")
)

// knownTags is the WOFF2 fixed tag table, indexed by the low six flag bits.
var knownTags = [63]string{
	"cmap", "head", "hhea", "hmtx", "maxp", "name", "OS/2", "post", "cvt ",
	"fpgm", "glyf", "loca", "prep", "CFF ", "VORG", "EBDT", "EBLC", "gasp",
	"hdmx", "kern", "LTSH", "PCLT", "VDMX", "vhea", "vmtx", "BASE", "GDEF",
	"GPOS", "GSUB", "EBSC", "JSTF", "MATH", "CBDT", "CBLC", "COLR", "CPAL",
	"SVG ", "sbix", "acnt", "avar", "bdat", "bloc", "bsln", "cvar", "fdsc",
	"feat", "fmtx", "fvar", "gvar", "hsty", "just", "lcar", "mort", "morx",
	"opbd", "prop", "trak", "Zapf", "Silf", "Glat", "Gloc", "Feat", "Sill",
}

// KnownTagIndex returns the fixed-table index of tag, or -1.
func KnownTagIndex(tag string) int {
	for i, t := range knownTags {
		if t == tag {
			return i
		}
	}
	return -1
}

// Font is a decoded WOFF2 container.
type Font struct {
	Flavor uint32

	order       []string
	tables      map[string][]byte
	transformed map[string]bool
}

// IsWOFF2 reports whether data carries the WOFF2 signature.
func IsWOFF2(data []byte) bool {
	return len(data) >= len(Magic) && bytes.Equal(data[:len(Magic)], Magic)
}

type dirEntry struct {
	tag         string
	origLength  uint32
	length      uint32 // bytes occupied in the decoded stream
	transformed bool
}

// Parse decodes a WOFF2 file.
func Parse(data []byte) (*Font, error) {
	if !IsWOFF2(data) {
		return nil, ErrNotWOFF2
	}
	if len(data) < woff2HeaderSize {
		return nil, ErrTruncated
	}
	flavor := binary.BigEndian.Uint32(data[4:])
	if flavor == flavorTTC {
		return nil, ErrCollection
	}
	numTables := int(binary.BigEndian.Uint16(data[12:]))
	compressedSize := binary.BigEndian.Uint32(data[20:])
	if numTables == 0 {
		return nil, errors.New("sfnt: no tables")
	}

	r := &cursor{b: data, off: woff2HeaderSize}
	entries := make([]dirEntry, 0, numTables)
	var total uint64
	for i := 0; i < numTables; i++ {
		e, err := readDirEntry(r)
		if err != nil {
			return nil, fmt.Errorf("sfnt: table directory entry %d: %w", i, err)
		}
		total += uint64(e.length)
		entries = append(entries, e)
	}
	if total > maxDecodedSize {
		return nil, fmt.Errorf("sfnt: decoded size %d exceeds limit", total)
	}

	end := r.off + int(compressedSize)
	if compressedSize == 0 || end > len(data) || end < r.off {
		return nil, ErrTruncated
	}
	stream, err := io.ReadAll(io.LimitReader(brotli.NewReader(bytes.NewReader(data[r.off:end])), int64(total)+1))
	if err != nil {
		return nil, fmt.Errorf("sfnt: decompress table stream: %w", err)
	}
	if uint64(len(stream)) < total {
		return nil, fmt.Errorf("sfnt: table stream is %d bytes, directory needs %d: %w", len(stream), total, ErrTruncated)
	}

	f := &Font{
		Flavor:      flavor,
		order:       make([]string, 0, numTables),
		tables:      make(map[string][]byte, numTables),
		transformed: make(map[string]bool),
	}
	var off uint32
	for _, e := range entries {
		f.order = append(f.order, e.tag)
		f.tables[e.tag] = stream[off : off+e.length]
		if e.transformed {
			f.transformed[e.tag] = true
		}
		off += e.length
	}
	return f, nil
}

func readDirEntry(r *cursor) (dirEntry, error) {
	flags, err := r.u8()
	if err != nil {
		return dirEntry{}, err
	}
	var tag string
	if idx := flags & 0x3f; idx == 0x3f {
		raw, err := r.bytes(4)
		if err != nil {
			return dirEntry{}, err
		}
		tag = string(raw)
	} else {
		tag = knownTags[idx]
	}
	version := flags >> 6

	orig, err := r.base128()
	if err != nil {
		return dirEntry{}, err
	}
	e := dirEntry{tag: tag, origLength: orig, length: orig}

	// glyf/loca use version 0 for the transform and 3 for null; every other
	// table uses 0 for null.
	if tag == "glyf" || tag == "loca" {
		e.transformed = version == 0
	} else {
		e.transformed = version != 0
	}
	if e.transformed {
		tl, err := r.base128()
		if err != nil {
			return dirEntry{}, err
		}
		e.length = tl
	}
	return e, nil
}

// Tags lists the table tags in directory order.
func (f *Font) Tags() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

// Has reports whether the font carries tag.
func (f *Font) Has(tag string) bool {
	_, ok := f.tables[tag]
	return ok
}

// Table returns the raw bytes of an untransformed table.
func (f *Font) Table(tag string) ([]byte, bool) {
	if f.transformed[tag] {
		return nil, false
	}
	b, ok := f.tables[tag]
	return b, ok
}

// cursor is a bounds-checked big-endian reader.
type cursor struct {
	b   []byte
	off int
}

func (c *cursor) bytes(n int) ([]byte, error) {
	if n < 0 || c.off+n > len(c.b) {
		return nil, ErrTruncated
	}
	out := c.b[c.off : c.off+n]
	c.off += n
	return out, nil
}

func (c *cursor) u8() (uint8, error) {
	b, err := c.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// base128 reads a WOFF2 UIntBase128 value.
func (c *cursor) base128() (uint32, error) {
	var v uint32
	for i := 0; i < 5; i++ {
		b, err := c.u8()
		if err != nil {
			return 0, err
		}
		if i == 0 && b == 0x80 {
			return 0, errors.New("sfnt: UIntBase128 with leading zero")
		}
		if v&0xFE000000 != 0 {
			return 0, errors.New("sfnt: UIntBase128 overflow")
		}
		v = v<<7 | uint32(b&0x7f)
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, errors.New("sfnt: UIntBase128 longer than 5 bytes")
}

// AppendBase128 appends v in UIntBase128 form.
func AppendBase128(dst []byte, v uint32) []byte {
	var tmp [5]byte
	n := 0
	for {
		tmp[4-n] = byte(v & 0x7f)
		v >>= 7
		n++
		if v == 0 {
			break
		}
	}
	for i := 5 - n; i < 4; i++ {
		tmp[i] |= 0x80
	}
	return append(dst, tmp[5-n:]...)
}
