// Package sharedobj loads authentication mechanisms from Go plugin files.
//
// A mechanism plugin is a package main built with -buildmode=plugin that
// exports:
//
//	var PluginType = "auth/example"            // required
//	var PluginDescription = "example mechanism" // optional
//
//	func AuthAlloc() mech.Credential
//	func AuthFree(mech.Credential)
//	func AuthActivate(mech.Credential, int) error
//	func AuthVerify(mech.Credential) error
//	func AuthGetUID(mech.Credential) uint32
//	func AuthGetGID(mech.Credential) uint32
//	func AuthPack(mech.Credential, *xdr.Buffer)
//	func AuthUnpack(mech.Credential, *xdr.Buffer) error
//	func AuthPrint(mech.Credential, io.Writer)
//
//	func AuthActive() bool                       // optional, see rack.Module
//
// The loader translates each canonical operation name to the exported Go
// name and hands the symbol to mech.Bind, which checks its signature.
// Go plugins cannot be unloaded; closing a module only invalidates it.
package sharedobj

import (
	"fmt"
	"strings"

	"github.com/marmos91/dittoauth/pkg/auth/mech"
)

// LoaderName is the Source of descriptors produced by this loader.
const LoaderName = "sharedobj"

// Exported variable and function names looked up in plugin files.
const (
	SymPluginType        = "PluginType"
	SymPluginDescription = "PluginDescription"
	SymActive            = "AuthActive"
)

// exportedNames maps canonical operation names to exported Go identifiers.
var exportedNames = map[string]string{
	mech.SymAlloc:    "AuthAlloc",
	mech.SymFree:     "AuthFree",
	mech.SymActivate: "AuthActivate",
	mech.SymVerify:   "AuthVerify",
	mech.SymGetUID:   "AuthGetUID",
	mech.SymGetGID:   "AuthGetGID",
	mech.SymPack:     "AuthPack",
	mech.SymUnpack:   "AuthUnpack",
	mech.SymPrint:    "AuthPrint",
}

// ExportedName returns the Go identifier a plugin exports for a canonical
// operation name, or "" if the name is not an operation.
func ExportedName(canonical string) string {
	return exportedNames[canonical]
}

// Paranoia selects ownership and permission checks applied to plugin files
// and their directory before they are opened.
type Paranoia uint8

const (
	// ParanoiaNone opens any *.so file found.
	ParanoiaNone Paranoia = 0

	// ParanoiaDirWritable rejects a plugin directory writable by group or others.
	ParanoiaDirWritable Paranoia = 1 << iota

	// ParanoiaFileWritable rejects plugin files writable by group or others.
	ParanoiaFileWritable

	// ParanoiaDirOwner rejects a plugin directory not owned by the trusted UID.
	ParanoiaDirOwner

	// ParanoiaFileOwner rejects plugin files not owned by the trusted UID.
	ParanoiaFileOwner
)

var paranoiaNames = map[string]Paranoia{
	"dir_writable":  ParanoiaDirWritable,
	"file_writable": ParanoiaFileWritable,
	"dir_owner":     ParanoiaDirOwner,
	"file_owner":    ParanoiaFileOwner,
}

// ParseParanoia combines check names as written in configuration
// (dir_writable, file_writable, dir_owner, file_owner).
func ParseParanoia(names []string) (Paranoia, error) {
	p := ParanoiaNone
	for _, name := range names {
		flag, ok := paranoiaNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return ParanoiaNone, fmt.Errorf("unknown paranoia check %q", name)
		}
		p |= flag
	}
	return p, nil
}

// Option configures a Loader.
type Option func(*options)

type options struct {
	paranoia   Paranoia
	trustedUID uint32
}

// WithParanoia enables file checks. trustedUID is used by the owner checks.
func WithParanoia(p Paranoia, trustedUID uint32) Option {
	return func(o *options) {
		o.paranoia = p
		o.trustedUID = trustedUID
	}
}
