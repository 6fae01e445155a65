// Package hashtable implements ELF symbol lookup via the classic DT_HASH
// table and the GNU DT_GNU_HASH table, both exposed through the same
// FindSymbol shape so a dynamic table can pick whichever is present.
package hashtable

import "errors"

// ErrNotFound is returned by FindSymbol when the name is absent.
var ErrNotFound = errors.New("hashtable: symbol not found")

// Reader is the minimal image access a hash table needs: an endian-correct
// 32-bit load at an RVA. FindSymbol takes the string-table lookup and
// symbol-name accessor as separate function arguments rather than folding
// them into Reader, since hashtable has no notion of Elf32_Sym/Elf64_Sym
// layout — that is internal/dynamic's job.
type Reader interface {
	LoadWord(rva uint64) (uint32, error)
}

// ElfHash is the classic PJW-style 32-bit hash ELF uses for DT_HASH. It is
// computed over the full NUL-terminated byte sequence of name.
func ElfHash(name string) uint32 {
	var h uint32
	for i := 0; i < len(name); i++ {
		h = (h << 4) + uint32(name[i])
		if g := h & 0xf0000000; g != 0 {
			h ^= g >> 24
			h &^= g
		}
	}
	return h
}

// GnuHash is the DJB-style hash DT_GNU_HASH uses.
func GnuHash(name string) uint32 {
	h := uint32(5381)
	for i := 0; i < len(name); i++ {
		h = h*33 + uint32(name[i])
	}
	return h
}

// Classic resolves names through a DT_HASH table: header {nbuckets,
// nchains} at reladdr, a Word[nbuckets] bucket array, then a Word[nchains]
// chain array.
type Classic struct {
	r        Reader
	reladdr  uint64
	nbuckets uint32
	nchains  uint32
	bucketRVA uint64
	chainRVA  uint64
}

func NewClassic(r Reader, reladdr uint64) (*Classic, error) {
	nbuckets, err := r.LoadWord(reladdr)
	if err != nil {
		return nil, err
	}
	nchains, err := r.LoadWord(reladdr + 4)
	if err != nil {
		return nil, err
	}
	return &Classic{
		r:         r,
		reladdr:   reladdr,
		nbuckets:  nbuckets,
		nchains:   nchains,
		bucketRVA: reladdr + 8,
		chainRVA:  reladdr + 8 + uint64(nbuckets)*4,
	}, nil
}

// FindSymbol walks bucket[hash%nbuckets] then the chain array, comparing
// each candidate's name, per the canonical DT_HASH lookup loop.
func (c *Classic) FindSymbol(strtab func(rva uint64) (string, error), symName func(index uint32) (uint64, error), name string) (uint32, error) {
	if c.nbuckets == 0 {
		return 0, ErrNotFound
	}
	h := ElfHash(name)
	bucket := h % c.nbuckets
	idx, err := c.r.LoadWord(c.bucketRVA + uint64(bucket)*4)
	if err != nil {
		return 0, err
	}
	for idx != 0 {
		if idx >= c.nchains {
			return 0, ErrNotFound
		}
		nameOff, err := symName(idx)
		if err != nil {
			return 0, err
		}
		candidate, err := strtab(nameOff)
		if err != nil {
			return 0, err
		}
		if candidate == name {
			return idx, nil
		}
		idx, err = c.r.LoadWord(c.chainRVA + uint64(idx)*4)
		if err != nil {
			return 0, err
		}
	}
	return 0, ErrNotFound
}

// Gnu resolves names through a DT_GNU_HASH table: header {nbuckets, symndx,
// maskwords, shift}, a Bloom filter of Addr[maskwords] (word width follows
// the ELF class — 32-bit words on Elf32, 64-bit on Elf64), a bucket array of
// Word[nbuckets], then a chain array of one Word per symbol at index >=
// symndx.
type Gnu struct {
	r           Reader
	nbuckets    uint32
	symndx      uint32
	maskwords   uint32
	shift       uint32
	bloomWordSz uint64
	bloomRVA    uint64
	bucketRVA   uint64
	chainRVA    uint64
	loadBloom   func(rva uint64) (uint64, error)
}

// NewGnu constructs a GNU hash table view. loadBloomWord reads one Bloom
// filter word (native class width) at an RVA; bloomWordSize is 4 or 8.
func NewGnu(r Reader, reladdr uint64, bloomWordSize uint64, loadBloomWord func(rva uint64) (uint64, error)) (*Gnu, error) {
	nbuckets, err := r.LoadWord(reladdr)
	if err != nil {
		return nil, err
	}
	symndx, err := r.LoadWord(reladdr + 4)
	if err != nil {
		return nil, err
	}
	maskwords, err := r.LoadWord(reladdr + 8)
	if err != nil {
		return nil, err
	}
	shift, err := r.LoadWord(reladdr + 12)
	if err != nil {
		return nil, err
	}
	bloomRVA := reladdr + 16
	bucketRVA := bloomRVA + uint64(maskwords)*bloomWordSize
	chainRVA := bucketRVA + uint64(nbuckets)*4
	return &Gnu{
		r:           r,
		nbuckets:    nbuckets,
		symndx:      symndx,
		maskwords:   maskwords,
		shift:       shift,
		bloomWordSz: bloomWordSize,
		bloomRVA:    bloomRVA,
		bucketRVA:   bucketRVA,
		chainRVA:    chainRVA,
		loadBloom:   loadBloomWord,
	}, nil
}

// FindSymbol computes h = GnuHash(name), consults the Bloom filter to
// short-circuit a definite absence, then walks the chain from
// bucket[h%nbuckets]. Each chain word packs the hash (high 31 bits) with an
// end-of-chain flag in the low bit; the walk stops at the first word with
// that bit set.
func (g *Gnu) FindSymbol(strtab func(rva uint64) (string, error), symName func(index uint32) (uint64, error), name string) (uint32, error) {
	if g.nbuckets == 0 {
		return 0, ErrNotFound
	}
	h := GnuHash(name)

	if g.maskwords > 0 {
		bits := uint64(g.bloomWordSz * 8)
		wordIdx := uint64(h/uint32(bits)) % uint64(g.maskwords)
		word, err := g.loadBloom(g.bloomRVA + wordIdx*g.bloomWordSz)
		if err != nil {
			return 0, err
		}
		bit1 := uint64(1) << (h % uint32(bits))
		bit2 := uint64(1) << ((h >> g.shift) % uint32(bits))
		if word&bit1 == 0 || word&bit2 == 0 {
			return 0, ErrNotFound
		}
	}

	bucket := h % g.nbuckets
	chainIdx, err := g.r.LoadWord(g.bucketRVA + uint64(bucket)*4)
	if err != nil {
		return 0, err
	}
	if chainIdx == 0 {
		return 0, ErrNotFound
	}
	if chainIdx < g.symndx {
		return 0, ErrNotFound
	}

	for {
		chainWordIdx := chainIdx - g.symndx
		chainHash, err := g.r.LoadWord(g.chainRVA + uint64(chainWordIdx)*4)
		if err != nil {
			return 0, err
		}
		if (chainHash^h)&^1 == 0 {
			nameOff, err := symName(chainIdx)
			if err != nil {
				return 0, err
			}
			candidate, err := strtab(nameOff)
			if err != nil {
				return 0, err
			}
			if candidate == name {
				return chainIdx, nil
			}
		}
		if chainHash&1 != 0 {
			return 0, ErrNotFound
		}
		chainIdx++
	}
}

