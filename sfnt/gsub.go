package sfnt

import (
	"errors"
)

// GSUB is a parsed glyph substitution table.  Only the structures needed to
// enumerate single substitutions are decoded.
type GSUB struct {
	b []byte

	scriptList  int
	featureList int
	lookupList  int
}

// Feature is a FeatureList record.
type Feature struct {
	Tag     string
	Lookups []int
}

// GSUB returns the font's substitution table, or nil when absent.
func (f *Font) GSUB() (*GSUB, error) {
	b, ok := f.Table("GSUB")
	if !ok {
		return nil, nil
	}
	sl, err := u16(b, 4)
	if err != nil {
		return nil, err
	}
	fl, err := u16(b, 6)
	if err != nil {
		return nil, err
	}
	ll, err := u16(b, 8)
	if err != nil {
		return nil, err
	}
	return &GSUB{b: b, scriptList: int(sl), featureList: int(fl), lookupList: int(ll)}, nil
}

// ReferencedFeatures returns the feature indices named by any script's
// default or language-specific LangSys.
func (g *GSUB) ReferencedFeatures() (map[int]bool, error) {
	out := make(map[int]bool)
	if g.scriptList == 0 {
		return out, nil
	}
	n, err := u16(g.b, g.scriptList)
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(n); i++ {
		so, err := u16(g.b, g.scriptList+2+i*6+4)
		if err != nil {
			return nil, err
		}
		script := g.scriptList + int(so)
		def, err := u16(g.b, script)
		if err != nil {
			return nil, err
		}
		if def != 0 {
			if err := g.langSysFeatures(script+int(def), out); err != nil {
				return nil, err
			}
		}
		ln, err := u16(g.b, script+2)
		if err != nil {
			return nil, err
		}
		for j := 0; j < int(ln); j++ {
			lo, err := u16(g.b, script+4+j*6+4)
			if err != nil {
				return nil, err
			}
			if err := g.langSysFeatures(script+int(lo), out); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (g *GSUB) langSysFeatures(off int, out map[int]bool) error {
	n, err := u16(g.b, off+4)
	if err != nil {
		return err
	}
	for k := 0; k < int(n); k++ {
		idx, err := u16(g.b, off+6+k*2)
		if err != nil {
			return err
		}
		out[int(idx)] = true
	}
	return nil
}

// Features decodes the FeatureList.
func (g *GSUB) Features() ([]Feature, error) {
	if g.featureList == 0 {
		return nil, nil
	}
	n, err := u16(g.b, g.featureList)
	if err != nil {
		return nil, err
	}
	out := make([]Feature, 0, n)
	for i := 0; i < int(n); i++ {
		rec := g.featureList + 2 + i*6
		if rec+6 > len(g.b) {
			return nil, ErrTruncated
		}
		tag := string(g.b[rec : rec+4])
		fo, _ := u16(g.b, rec+4)
		feat := g.featureList + int(fo)
		ln, err := u16(g.b, feat+2)
		if err != nil {
			return nil, err
		}
		ft := Feature{Tag: tag, Lookups: make([]int, 0, ln)}
		for j := 0; j < int(ln); j++ {
			li, err := u16(g.b, feat+4+j*2)
			if err != nil {
				return nil, err
			}
			ft.Lookups = append(ft.Lookups, int(li))
		}
		out = append(out, ft)
	}
	return out, nil
}

// NumLookups returns the LookupList length.
func (g *GSUB) NumLookups() int {
	if g.lookupList == 0 {
		return 0
	}
	n, err := u16(g.b, g.lookupList)
	if err != nil {
		return 0
	}
	return int(n)
}

const (
	lookupSingle    = 1
	lookupExtension = 7
)

// SinglePair is one source to destination glyph mapping.
type SinglePair struct {
	From, To uint16
}

// SingleSubstitutions returns the mappings of every single-substitution
// subtable of lookup idx, subtable by subtable.  Extension subtables
// wrapping single substitutions are followed.  A lookup of any other type
// yields nil.
func (g *GSUB) SingleSubstitutions(idx int) ([]SinglePair, error) {
	if idx < 0 || idx >= g.NumLookups() {
		return nil, errors.New("sfnt: lookup index out of range")
	}
	lo, err := u16(g.b, g.lookupList+2+idx*2)
	if err != nil {
		return nil, err
	}
	lookup := g.lookupList + int(lo)
	typ, err := u16(g.b, lookup)
	if err != nil {
		return nil, err
	}
	if typ != lookupSingle && typ != lookupExtension {
		return nil, nil
	}
	n, err := u16(g.b, lookup+4)
	if err != nil {
		return nil, err
	}
	var out []SinglePair
	for i := 0; i < int(n); i++ {
		so, err := u16(g.b, lookup+6+i*2)
		if err != nil {
			return nil, err
		}
		sub := lookup + int(so)
		if typ == lookupExtension {
			ext, err := u16(g.b, sub+2)
			if err != nil {
				return nil, err
			}
			if ext != lookupSingle {
				continue
			}
			eo, err := u32(g.b, sub+4)
			if err != nil {
				return nil, err
			}
			sub += int(eo)
		}
		pairs, err := g.singleSubtable(sub)
		if err != nil {
			return nil, err
		}
		out = append(out, pairs...)
	}
	return out, nil
}

func (g *GSUB) singleSubtable(off int) ([]SinglePair, error) {
	format, err := u16(g.b, off)
	if err != nil {
		return nil, err
	}
	co, err := u16(g.b, off+2)
	if err != nil {
		return nil, err
	}
	cov, err := g.coverage(off + int(co))
	if err != nil {
		return nil, err
	}
	out := make([]SinglePair, 0, len(cov))
	switch format {
	case 1:
		d, err := u16(g.b, off+4)
		if err != nil {
			return nil, err
		}
		for _, src := range cov {
			out = append(out, SinglePair{From: src, To: src + d})
		}
	case 2:
		n, err := u16(g.b, off+4)
		if err != nil {
			return nil, err
		}
		for i, src := range cov {
			if i >= int(n) {
				break
			}
			dst, err := u16(g.b, off+6+i*2)
			if err != nil {
				return nil, err
			}
			out = append(out, SinglePair{From: src, To: dst})
		}
	default:
		return nil, errors.New("sfnt: unknown single substitution format")
	}
	return out, nil
}

// coverage returns the covered glyphs in coverage-index order.
func (g *GSUB) coverage(off int) ([]uint16, error) {
	format, err := u16(g.b, off)
	if err != nil {
		return nil, err
	}
	n, err := u16(g.b, off+2)
	if err != nil {
		return nil, err
	}
	var out []uint16
	switch format {
	case 1:
		out = make([]uint16, 0, n)
		for i := 0; i < int(n); i++ {
			gid, err := u16(g.b, off+4+i*2)
			if err != nil {
				return nil, err
			}
			out = append(out, gid)
		}
	case 2:
		for i := 0; i < int(n); i++ {
			rec := off + 4 + i*6
			start, err := u16(g.b, rec)
			if err != nil {
				return nil, err
			}
			end, err := u16(g.b, rec+2)
			if err != nil {
				return nil, err
			}
			for gid := uint32(start); gid <= uint32(end); gid++ {
				out = append(out, uint16(gid))
			}
		}
	default:
		return nil, errors.New("sfnt: unknown coverage format")
	}
	return out, nil
}
