package sfnt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"unicode/utf16"

	"golang.org/x/text/encoding/charmap"
)

// Name IDs used by the acceptance policy.
const (
	NameFamily        = 1
	NameSubfamily     = 2
	NameFullName      = 4
	NamePostScript    = 6
	NameTypoFamily    = 16
	NameTypoSubfamily = 17
)

// NameRecord is a decoded entry of the name table.
type NameRecord struct {
	PlatformID uint16
	EncodingID uint16
	LanguageID uint16
	NameID     uint16
	Value      string
}

func u16(b []byte, off int) (uint16, error) {
	if off < 0 || off+2 > len(b) {
		return 0, ErrTruncated
	}
	return binary.BigEndian.Uint16(b[off:]), nil
}

func u32(b []byte, off int) (uint32, error) {
	if off < 0 || off+4 > len(b) {
		return 0, ErrTruncated
	}
	return binary.BigEndian.Uint32(b[off:]), nil
}

func (f *Font) table(tag string) ([]byte, error) {
	b, ok := f.Table(tag)
	if !ok {
		return nil, fmt.Errorf("sfnt: missing %q table", tag)
	}
	return b, nil
}

// Names decodes the name table.  Records in encodings other than UTF-16BE
// (platforms 0 and 3) or Mac Roman (platform 1, encoding 0) are skipped.
func (f *Font) Names() ([]NameRecord, error) {
	b, err := f.table("name")
	if err != nil {
		return nil, err
	}
	count, err := u16(b, 2)
	if err != nil {
		return nil, err
	}
	storage, err := u16(b, 4)
	if err != nil {
		return nil, err
	}
	out := make([]NameRecord, 0, count)
	for i := 0; i < int(count); i++ {
		rec := 6 + i*12
		if rec+12 > len(b) {
			return nil, ErrTruncated
		}
		r := NameRecord{
			PlatformID: binary.BigEndian.Uint16(b[rec:]),
			EncodingID: binary.BigEndian.Uint16(b[rec+2:]),
			LanguageID: binary.BigEndian.Uint16(b[rec+4:]),
			NameID:     binary.BigEndian.Uint16(b[rec+6:]),
		}
		length := int(binary.BigEndian.Uint16(b[rec+8:]))
		start := int(storage) + int(binary.BigEndian.Uint16(b[rec+10:]))
		if start+length > len(b) {
			continue
		}
		raw := b[start : start+length]
		switch {
		case r.PlatformID == 0 || r.PlatformID == 3:
			r.Value = decodeUTF16BE(raw)
		case r.PlatformID == 1 && r.EncodingID == 0:
			s, err := charmap.Macintosh.NewDecoder().Bytes(raw)
			if err != nil {
				continue
			}
			r.Value = string(s)
		default:
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func decodeUTF16BE(b []byte) string {
	u := make([]uint16, len(b)/2)
	for i := range u {
		u[i] = binary.BigEndian.Uint16(b[2*i:])
	}
	return string(utf16.Decode(u))
}

// Name returns the best value for nameID: Windows Unicode English first,
// then any Windows record, then anything else.
func (f *Font) Name(nameID uint16) string {
	recs, err := f.Names()
	if err != nil {
		return ""
	}
	rank := func(r NameRecord) int {
		switch {
		case r.PlatformID == 3 && r.EncodingID == 1 && r.LanguageID == 0x409:
			return 0
		case r.PlatformID == 3:
			return 1
		case r.PlatformID == 0:
			return 2
		default:
			return 3
		}
	}
	best, bestRank := "", 4
	for _, r := range recs {
		if r.NameID != nameID || strings.TrimSpace(r.Value) == "" {
			continue
		}
		if rk := rank(r); rk < bestRank {
			best, bestRank = r.Value, rk
		}
	}
	return strings.TrimSpace(best)
}

// FamilySubfamily returns the family and subfamily names (IDs 1 and 2).
func (f *Font) FamilySubfamily() (family, subfamily string) {
	return f.Name(NameFamily), f.Name(NameSubfamily)
}

// cmap subtable preference, best first.
var cmapPreference = [][3]uint16{
	{3, 10, 12},
	{0, 6, 12},
	{0, 4, 12},
	{3, 1, 4},
	{0, 3, 4},
	{0, 2, 4},
	{0, 1, 4},
	{0, 0, 4},
}

// Cmap returns the best Unicode character map.  Code points mapped to the
// missing glyph are omitted.
func (f *Font) Cmap() (map[rune]uint16, error) {
	b, err := f.table("cmap")
	if err != nil {
		return nil, err
	}
	n, err := u16(b, 2)
	if err != nil {
		return nil, err
	}
	type sub struct {
		platform, encoding, format uint16
		offset                     int
	}
	subs := make([]sub, 0, n)
	for i := 0; i < int(n); i++ {
		rec := 4 + i*8
		pid, err := u16(b, rec)
		if err != nil {
			return nil, err
		}
		eid, _ := u16(b, rec+2)
		off, err := u32(b, rec+4)
		if err != nil {
			return nil, err
		}
		format, err := u16(b, int(off))
		if err != nil {
			continue
		}
		subs = append(subs, sub{pid, eid, format, int(off)})
	}
	for _, want := range cmapPreference {
		for _, s := range subs {
			if s.platform != want[0] || s.encoding != want[1] || s.format != want[2] {
				continue
			}
			if s.format == 12 {
				return parseCmap12(b[s.offset:])
			}
			return parseCmap4(b[s.offset:])
		}
	}
	return nil, errors.New("sfnt: no usable Unicode cmap subtable")
}

func parseCmap4(b []byte) (map[rune]uint16, error) {
	segX2, err := u16(b, 6)
	if err != nil {
		return nil, err
	}
	seg := int(segX2 / 2)
	endOff := 14
	startOff := endOff + 2*seg + 2
	deltaOff := startOff + 2*seg
	rangeOff := deltaOff + 2*seg
	if rangeOff+2*seg > len(b) {
		return nil, ErrTruncated
	}
	out := make(map[rune]uint16)
	for i := 0; i < seg; i++ {
		end := binary.BigEndian.Uint16(b[endOff+2*i:])
		start := binary.BigEndian.Uint16(b[startOff+2*i:])
		delta := binary.BigEndian.Uint16(b[deltaOff+2*i:])
		ro := binary.BigEndian.Uint16(b[rangeOff+2*i:])
		if start > end {
			continue
		}
		for c := uint32(start); c <= uint32(end); c++ {
			if c == 0xFFFF {
				break
			}
			var gid uint16
			if ro == 0 {
				gid = uint16(c) + delta
			} else {
				addr := rangeOff + 2*i + int(ro) + 2*int(c-uint32(start))
				g, err := u16(b, addr)
				if err != nil {
					continue
				}
				if g != 0 {
					gid = g + delta
				}
			}
			if gid != 0 {
				out[rune(c)] = gid
			}
		}
	}
	return out, nil
}

func parseCmap12(b []byte) (map[rune]uint16, error) {
	groups, err := u32(b, 12)
	if err != nil {
		return nil, err
	}
	if 16+int64(groups)*12 > int64(len(b)) {
		return nil, ErrTruncated
	}
	out := make(map[rune]uint16)
	for i := 0; i < int(groups); i++ {
		g := 16 + i*12
		start := binary.BigEndian.Uint32(b[g:])
		end := binary.BigEndian.Uint32(b[g+4:])
		gid := binary.BigEndian.Uint32(b[g+8:])
		if end > 0x10FFFF {
			end = 0x10FFFF
		}
		for c := start; c <= end && start <= end; c++ {
			if id := gid + (c - start); id != 0 && id <= 0xFFFF {
				out[rune(c)] = uint16(id)
			}
		}
	}
	return out, nil
}

// OS2 holds the OS/2 fields the policy reads.
type OS2 struct {
	Version    uint16
	FsType     uint16
	WinAscent  uint16
	WinDescent uint16
}

// Embedding restriction bits of fsType.
const (
	FsTypeRestricted = 0x0002
	FsTypePreview    = 0x0004
	FsTypeEditable   = 0x0008
	FsTypeNoSubset   = 0x0100
	FsTypeBitmapOnly = 0x0200
)

// OS2 decodes the OS/2 table.
func (f *Font) OS2() (OS2, error) {
	b, err := f.table("OS/2")
	if err != nil {
		return OS2{}, err
	}
	if len(b) < 78 {
		return OS2{}, fmt.Errorf("sfnt: OS/2 table is %d bytes: %w", len(b), ErrTruncated)
	}
	return OS2{
		Version:    binary.BigEndian.Uint16(b[0:]),
		FsType:     binary.BigEndian.Uint16(b[8:]),
		WinAscent:  binary.BigEndian.Uint16(b[74:]),
		WinDescent: binary.BigEndian.Uint16(b[76:]),
	}, nil
}

// UnitsPerEm reads head.unitsPerEm.
func (f *Font) UnitsPerEm() (uint16, error) {
	b, err := f.table("head")
	if err != nil {
		return 0, err
	}
	return u16(b, 18)
}
