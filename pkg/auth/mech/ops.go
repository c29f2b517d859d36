package mech

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/marmos91/dittoauth/pkg/xdr"
)

// Canonical operation symbol names.
const (
	SymAlloc    = "auth_alloc"
	SymFree     = "auth_free"
	SymActivate = "auth_activate"
	SymVerify   = "auth_verify"
	SymGetUID   = "auth_get_uid"
	SymGetGID   = "auth_get_gid"
	SymPack     = "auth_pack"
	SymUnpack   = "auth_unpack"
	SymPrint    = "auth_print"
)

// SymbolNames lists every operation in canonical order. Bind assigns by
// name, so the order only matters for diagnostics and loader requests.
var SymbolNames = [...]string{
	SymAlloc,
	SymFree,
	SymActivate,
	SymVerify,
	SymGetUID,
	SymGetGID,
	SymPack,
	SymUnpack,
	SymPrint,
}

// OpCount is the number of operations a complete mechanism provides.
const OpCount = len(SymbolNames)

// ErrIncompleteMechanism is returned by Bind when fewer than OpCount
// operations resolve.
var ErrIncompleteMechanism = errors.New("auth: incomplete mechanism")

// Ops is the operation table of one mechanism.
//
// A table is either the zero value (unresolved) or has every field set;
// Bind never returns a partially populated table. Once published an Ops
// value is read-only and may be shared between goroutines.
type Ops struct {
	Alloc    func() Credential
	Free     func(Credential)
	Activate func(Credential, int) error
	Verify   func(Credential) error
	UID      func(Credential) uint32
	GID      func(Credential) uint32
	Pack     func(Credential, *xdr.Buffer)
	Unpack   func(Credential, *xdr.Buffer) error
	Print    func(Credential, io.Writer)
}

// Complete reports whether every operation is set.
func (o *Ops) Complete() bool {
	return o != nil &&
		o.Alloc != nil &&
		o.Free != nil &&
		o.Activate != nil &&
		o.Verify != nil &&
		o.UID != nil &&
		o.GID != nil &&
		o.Pack != nil &&
		o.Unpack != nil &&
		o.Print != nil
}

// LookupFunc resolves one symbol by name. Implementations return an error
// when the symbol is absent.
type LookupFunc func(name string) (any, error)

// Bind resolves every canonical symbol through lookup and assigns it to the
// Ops field of the same name.
//
// A symbol that is missing, or whose type does not match the field, counts
// as unresolved. The number of resolved symbols is always returned. If it is
// below OpCount, Bind returns the zero Ops and an error wrapping
// ErrIncompleteMechanism that names the missing symbols.
func Bind(lookup LookupFunc) (Ops, int, error) {
	var ops Ops
	var missing []string
	resolved := 0

	for _, name := range SymbolNames {
		sym, err := lookup(name)
		if err != nil || sym == nil || !assign(&ops, name, sym) {
			missing = append(missing, name)
			continue
		}
		resolved++
	}

	if resolved < OpCount {
		return Ops{}, resolved, fmt.Errorf("%w: %d of %d operations resolved, missing %s",
			ErrIncompleteMechanism, resolved, OpCount, strings.Join(missing, ", "))
	}
	return ops, resolved, nil
}

// assign stores sym into the field named by name. It reports false when the
// symbol's type does not match the field's signature.
func assign(ops *Ops, name string, sym any) bool {
	switch name {
	case SymAlloc:
		f, ok := sym.(func() Credential)
		ops.Alloc = f
		return ok
	case SymFree:
		f, ok := sym.(func(Credential))
		ops.Free = f
		return ok
	case SymActivate:
		f, ok := sym.(func(Credential, int) error)
		ops.Activate = f
		return ok
	case SymVerify:
		f, ok := sym.(func(Credential) error)
		ops.Verify = f
		return ok
	case SymGetUID:
		f, ok := sym.(func(Credential) uint32)
		ops.UID = f
		return ok
	case SymGetGID:
		f, ok := sym.(func(Credential) uint32)
		ops.GID = f
		return ok
	case SymPack:
		f, ok := sym.(func(Credential, *xdr.Buffer))
		ops.Pack = f
		return ok
	case SymUnpack:
		f, ok := sym.(func(Credential, *xdr.Buffer) error)
		ops.Unpack = f
		return ok
	case SymPrint:
		f, ok := sym.(func(Credential, io.Writer))
		ops.Print = f
		return ok
	default:
		return false
	}
}

// Symbols returns the canonical symbol map of a statically linked mechanism.
func Symbols(m Mechanism) map[string]any {
	return map[string]any{
		SymAlloc:    m.Alloc,
		SymFree:     m.Free,
		SymActivate: m.Activate,
		SymVerify:   m.Verify,
		SymGetUID:   m.UID,
		SymGetGID:   m.GID,
		SymPack:     m.Pack,
		SymUnpack:   m.Unpack,
		SymPrint:    m.Print,
	}
}

// MapLookup adapts a symbol map to a LookupFunc.
func MapLookup(symbols map[string]any) LookupFunc {
	return func(name string) (any, error) {
		sym, ok := symbols[name]
		if !ok {
			return nil, fmt.Errorf("symbol %q not found", name)
		}
		return sym, nil
	}
}
