package wasm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nopHost(context.Context, *HostCall) (Value, error) { return Void, nil }

func TestHostTable_Register(t *testing.T) {
	table := NewHostTable()

	require.NoError(t, table.Register("env", "print_i32", Sig(KindVoid, KindI32), nopHost))
	require.NoError(t, table.Register("", "read_i32", Sig(KindI32), nopHost))
	require.NoError(t, table.Register("math", "add", Sig(KindI32, KindI32, KindI32), nopHost))

	err := table.Register("env", "print_i32", Sig(KindVoid, KindF32), nopHost)
	var dup *DuplicateRegistrationError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "env.print_i32", dup.Name)
	assert.Equal(t, "DuplicateRegistration", KindOf(err))

	// The first registration is kept.
	spec, err := table.Resolve("env", "print_i32")
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindI32}, spec.Signature.Params)

	spec, err = table.Resolve("", "read_i32")
	require.NoError(t, err)
	assert.Equal(t, "env", spec.Module)
	assert.Equal(t, KindI32, spec.Signature.Result)
}

func TestHostTable_InvalidRegistration(t *testing.T) {
	table := NewHostTable()

	tests := []struct {
		name string
		fn   HostFunc
		sig  Signature
		reg  string
	}{
		{"no name", nopHost, Sig(KindVoid), ""},
		{"no callback", nil, Sig(KindVoid), "f"},
		{"void param", nopHost, Sig(KindVoid, KindVoid), "f"},
		{"bad result", nopHost, Sig(Kind(42)), "f"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := table.Register("env", tt.reg, tt.sig, tt.fn)
			assert.ErrorIs(t, err, ErrInvalidRegistration)
		})
	}
	assert.Empty(t, table.Functions())
}

func TestHostTable_Seal(t *testing.T) {
	table := NewHostTable()
	require.NoError(t, table.Register("env", "a", Sig(KindVoid), nopHost))
	assert.False(t, table.Sealed())

	assert.Same(t, table, table.Seal())
	assert.True(t, table.Sealed())

	err := table.Register("env", "b", Sig(KindVoid), nopHost)
	assert.ErrorIs(t, err, ErrTableSealed)

	_, err = table.Resolve("env", "a")
	assert.NoError(t, err)
}

func TestHostTable_Resolve(t *testing.T) {
	table := NewHostTable()
	require.NoError(t, table.Register("env", "print_i32", Sig(KindVoid, KindI32), nopHost))
	table.Seal()

	_, err := table.Resolve("other", "print_i32")
	var unknown *UnknownImportError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "other.print_i32", unknown.Name)

	// Names are matched exactly.
	_, err = table.Resolve("env", "Print_i32")
	assert.ErrorIs(t, err, ErrUnknownImport)
}

func TestHostTable_Listing(t *testing.T) {
	table := NewHostTable()
	require.NoError(t, table.Register("zeta", "z", Sig(KindVoid), nopHost))
	require.NoError(t, table.Register("env", "b", Sig(KindVoid), nopHost))
	require.NoError(t, table.Register("env", "a", Sig(KindVoid), nopHost))
	table.Seal()

	var names []string
	for _, spec := range table.Functions() {
		names = append(names, spec.QualifiedName())
	}
	assert.Equal(t, []string{"env.a", "env.b", "zeta.z"}, names)
	assert.Equal(t, []string{"env", "zeta"}, table.Modules())
}
