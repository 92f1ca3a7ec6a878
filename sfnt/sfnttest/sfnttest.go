// Package sfnttest builds small synthetic WOFF2 fonts for tests.
package sfnttest

import (
	"bytes"
	"encoding/binary"
	"sort"
	"unicode/utf16"

	"github.com/andybalholm/brotli"

	"github.com/firasghr/GoPersonaEngine/sfnt"
)

// Font describes a synthetic font.  Runes are mapped to glyph IDs 1..n in
// order.
type Font struct {
	Family     string
	Subfamily  string
	FsType     uint16
	WinAscent  uint16
	WinDescent uint16
	UnitsPerEm uint16
	Runes      []rune
	Format12   bool

	// Substitutions, when set, become one single-substitution lookup
	// registered under SubstFeature (default "calt") for the latn script.
	Substitutions []sfnt.SinglePair
	SubstFeature  string

	// Extra tables carried with a dummy payload, e.g. "COLR".
	Extra []string
	// Omit drops generated tables, e.g. "OS/2".
	Omit []string
}

// Glyph returns the glyph ID Runes assigns to r, or 0.
func (f Font) Glyph(r rune) uint16 {
	for i, x := range f.Runes {
		if x == r {
			return uint16(i + 1)
		}
	}
	return 0
}

// Basic returns a well-formed Latin font that passes the acceptance policy.
func Basic(family, subfamily string) Font {
	return Font{
		Family:     family,
		Subfamily:  subfamily,
		WinAscent:  900,
		WinDescent: 250,
		UnitsPerEm: 1000,
		Runes:      BasicLatin(),
	}
}

// BasicLatin returns U+0020..U+007E.
func BasicLatin() []rune {
	out := make([]rune, 0, 95)
	for r := rune(0x20); r <= 0x7E; r++ {
		out = append(out, r)
	}
	return out
}

// Bytes encodes f as a WOFF2 file.
func (f Font) Bytes() []byte {
	tables := map[string][]byte{
		"head": f.head(),
		"name": f.name(),
		"OS/2": f.os2(),
		"cmap": f.cmap(),
	}
	if len(f.Substitutions) > 0 {
		tables["GSUB"] = f.gsub()
	}
	for _, tag := range f.Extra {
		tables[tag] = []byte{0, 0, 0, 0}
	}
	for _, tag := range f.Omit {
		delete(tables, tag)
	}
	return Encode(tables)
}

// Encode packs tables into a WOFF2 container with null transforms.
func Encode(tables map[string][]byte) []byte {
	tags := make([]string, 0, len(tables))
	for t := range tables {
		tags = append(tags, t)
	}
	sort.Strings(tags)

	var dir, stream bytes.Buffer
	sfntSize := 12 + 16*len(tags)
	for _, tag := range tags {
		data := tables[tag]
		idx := sfnt.KnownTagIndex(tag)
		flags := byte(idx)
		if idx < 0 {
			flags = 0x3f
		}
		if tag == "glyf" || tag == "loca" {
			flags |= 3 << 6
		}
		dir.WriteByte(flags)
		if idx < 0 {
			dir.WriteString(tag)
		}
		dir.Write(sfnt.AppendBase128(nil, uint32(len(data))))
		stream.Write(data)
		sfntSize += (len(data) + 3) &^ 3
	}

	var compressed bytes.Buffer
	w := brotli.NewWriter(&compressed)
	_, _ = w.Write(stream.Bytes())
	_ = w.Close()

	hdr := make([]byte, 48)
	copy(hdr, sfnt.Magic)
	binary.BigEndian.PutUint32(hdr[4:], 0x00010000)
	binary.BigEndian.PutUint32(hdr[8:], uint32(48+dir.Len()+compressed.Len()))
	binary.BigEndian.PutUint16(hdr[12:], uint16(len(tags)))
	binary.BigEndian.PutUint32(hdr[16:], uint32(sfntSize))
	binary.BigEndian.PutUint32(hdr[20:], uint32(compressed.Len()))
	binary.BigEndian.PutUint16(hdr[24:], 1)

	out := append(hdr, dir.Bytes()...)
	return append(out, compressed.Bytes()...)
}

type buf struct{ b []byte }

func (w *buf) u16(v uint16) { w.b = binary.BigEndian.AppendUint16(w.b, v) }
func (w *buf) u32(v uint32) { w.b = binary.BigEndian.AppendUint32(w.b, v) }

func (f Font) head() []byte {
	b := make([]byte, 54)
	binary.BigEndian.PutUint32(b[0:], 0x00010000)
	binary.BigEndian.PutUint32(b[12:], 0x5F0F3CF5)
	binary.BigEndian.PutUint16(b[18:], f.UnitsPerEm)
	return b
}

func (f Font) os2() []byte {
	b := make([]byte, 96)
	binary.BigEndian.PutUint16(b[0:], 4)
	binary.BigEndian.PutUint16(b[4:], 400)
	binary.BigEndian.PutUint16(b[6:], 5)
	binary.BigEndian.PutUint16(b[8:], f.FsType)
	binary.BigEndian.PutUint16(b[74:], f.WinAscent)
	binary.BigEndian.PutUint16(b[76:], f.WinDescent)
	return b
}

func (f Font) name() []byte {
	ps := []rune{}
	for _, r := range f.Family + "-" + f.Subfamily {
		if r != ' ' {
			ps = append(ps, r)
		}
	}
	values := []struct {
		id uint16
		s  string
	}{
		{sfnt.NameFamily, f.Family},
		{sfnt.NameSubfamily, f.Subfamily},
		{sfnt.NameFullName, f.Family + " " + f.Subfamily},
		{sfnt.NamePostScript, string(ps)},
	}
	var w, storage buf
	w.u16(0)
	w.u16(uint16(len(values)))
	w.u16(uint16(6 + 12*len(values)))
	for _, v := range values {
		enc := utf16.Encode([]rune(v.s))
		off := len(storage.b)
		for _, u := range enc {
			storage.u16(u)
		}
		w.u16(3)
		w.u16(1)
		w.u16(0x409)
		w.u16(v.id)
		w.u16(uint16(2 * len(enc)))
		w.u16(uint16(off))
	}
	return append(w.b, storage.b...)
}

func (f Font) cmap() []byte {
	var w buf
	w.u16(0)
	w.u16(1)
	if f.Format12 {
		w.u16(3)
		w.u16(10)
		w.u32(12)
		w.u16(12)
		w.u16(0)
		w.u32(uint32(16 + 12*len(f.Runes)))
		w.u32(0)
		w.u32(uint32(len(f.Runes)))
		for i, r := range f.Runes {
			w.u32(uint32(r))
			w.u32(uint32(r))
			w.u32(uint32(i + 1))
		}
		return w.b
	}

	type seg struct{ start, end, delta uint16 }
	var segs []seg
	for i, r := range f.Runes {
		if r > 0xFFFE {
			continue
		}
		segs = append(segs, seg{uint16(r), uint16(r), uint16(i+1) - uint16(r)})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].start < segs[j].start })
	segs = append(segs, seg{0xFFFF, 0xFFFF, 1})

	n := len(segs)
	w.u16(3)
	w.u16(1)
	w.u32(12)
	w.u16(4)
	w.u16(uint16(16 + 8*n))
	w.u16(0)
	w.u16(uint16(2 * n))
	w.u16(0)
	w.u16(0)
	w.u16(0)
	for _, s := range segs {
		w.u16(s.end)
	}
	w.u16(0)
	for _, s := range segs {
		w.u16(s.start)
	}
	for _, s := range segs {
		w.u16(s.delta)
	}
	for range segs {
		w.u16(0)
	}
	return w.b
}

func (f Font) gsub() []byte {
	pairs := append([]sfnt.SinglePair(nil), f.Substitutions...)
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].From < pairs[j].From })
	feature := f.SubstFeature
	if feature == "" {
		feature = "calt"
	}
	tag4 := func(s string) []byte { return []byte((s + "    ")[:4]) }

	const (
		scriptList  = 10
		featureList = scriptList + 20
		lookupList  = featureList + 14
	)
	var w buf
	w.u32(0x00010000)
	w.u16(scriptList)
	w.u16(featureList)
	w.u16(lookupList)

	// ScriptList -> latn -> default LangSys with feature 0.
	w.u16(1)
	w.b = append(w.b, tag4("latn")...)
	w.u16(8)
	w.u16(4)
	w.u16(0)
	w.u16(0)
	w.u16(0xFFFF)
	w.u16(1)
	w.u16(0)

	// FeatureList -> feature -> lookup 0.
	w.u16(1)
	w.b = append(w.b, tag4(feature)...)
	w.u16(8)
	w.u16(0)
	w.u16(1)
	w.u16(0)

	// LookupList -> type 1 lookup -> format 2 subtable.
	n := len(pairs)
	w.u16(1)
	w.u16(4)
	w.u16(1)
	w.u16(0)
	w.u16(1)
	w.u16(8)
	w.u16(2)
	w.u16(uint16(6 + 2*n))
	w.u16(uint16(n))
	for _, p := range pairs {
		w.u16(p.To)
	}
	w.u16(1)
	w.u16(uint16(n))
	for _, p := range pairs {
		w.u16(p.From)
	}
	return w.b
}
