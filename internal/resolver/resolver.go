// Package resolver implements symbol resolution against a Module and its
// direct dependencies: export lookup (hash table plus visibility gating)
// and the data/proc-distinguishing entry points a relocation uses to find
// the value it needs.
package resolver

import (
	stdelf "debug/elf"
	"errors"
	"fmt"

	"github.com/owlshift/dynload/internal/dynamic"
)

// ErrSymbolRequired is returned when a non-weak relocation symbol resolves
// to zero.
var ErrSymbolRequired = errors.New("resolver: required symbol not found")

// Exporter is the narrow view a Module presents to the resolver: a hash
// lookup plus its own loaded base, letting the resolver add the base
// without knowing anything about VMem or segment layout.
type Exporter interface {
	FindSymbol(name string) (dynamic.Sym, bool, error)
	LoadedBase() uint64
}

// Export performs the export-lookup rule shared by GetDataSymbol and
// GetProcSymbol: a hash-table find, accepted only when the symbol's
// visibility is STV_DEFAULT or STV_PROTECTED, returning its RVA added to
// the module's loaded base. A miss (including a rejected visibility) and a
// zero st_value both return (0, nil) — the absence of an export is not an
// error, only the caller's eventual weak/non-weak check can make it one.
func Export(m Exporter, name string) (uint64, error) {
	sym, ok, err := m.FindSymbol(name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	if sym.Vis != stdelf.STV_DEFAULT && sym.Vis != stdelf.STV_PROTECTED {
		return 0, nil
	}
	if sym.Value == 0 {
		return 0, nil
	}
	return m.LoadedBase() + sym.Value, nil
}

// Resolver resolves names against one module's own exports, then its
// direct dependencies in declaration order, taking the first non-zero
// answer — source.Export and each dep.Export run in that fixed order.
type Resolver struct {
	Source Exporter
	Deps   []Exporter
}

// GetDataSymbol and GetProcSymbol are distinct entry points only for
// caller clarity — the underlying export-lookup rule does not distinguish
// symbol type, matching the reference loader's single find_symbol shared
// by both accessors.
func (r *Resolver) GetDataSymbol(name string) (uint64, error) { return r.getSymbol(name) }
func (r *Resolver) GetProcSymbol(name string) (uint64, error) { return r.getSymbol(name) }

func (r *Resolver) getSymbol(name string) (uint64, error) {
	if v, err := Export(r.Source, name); err != nil {
		return 0, err
	} else if v != 0 {
		return v, nil
	}
	for _, dep := range r.Deps {
		v, err := Export(dep, name)
		if err != nil {
			return 0, err
		}
		if v != 0 {
			return v, nil
		}
	}
	return 0, nil
}

// ResolveRelocationSymbol resolves the symbol a relocation references:
// dispatches to GetDataSymbol or GetProcSymbol by the referencing symbol's
// type (STT_OBJECT / STT_FUNC; anything else resolves to zero without
// lookup), then enforces that a zero result is only acceptable for a weak
// binding.
func (r *Resolver) ResolveRelocationSymbol(name string, symType stdelf.SymType, symBind stdelf.SymBind) (uint64, error) {
	var value uint64
	var err error
	switch symType {
	case stdelf.STT_OBJECT:
		value, err = r.GetDataSymbol(name)
	case stdelf.STT_FUNC:
		value, err = r.GetProcSymbol(name)
	default:
		value = 0
	}
	if err != nil {
		return 0, err
	}
	if value == 0 && symBind != stdelf.STB_WEAK {
		return 0, fmt.Errorf("%w: %q", ErrSymbolRequired, name)
	}
	return value, nil
}
