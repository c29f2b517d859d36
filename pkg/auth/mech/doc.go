// Package mech defines the contract every authentication mechanism satisfies.
//
// A mechanism supplies nine operations (alloc, free, activate, verify,
// get_uid, get_gid, pack, unpack, print). They are collected into an Ops
// table, the only thing the dispatcher in package auth ever calls.
//
// Ops tables are produced by Bind, which resolves each operation by its
// canonical symbol name and assigns it to the matching named field. Binding
// is all-or-nothing: a mechanism that exports fewer than nine operations
// yields the zero Ops and ErrIncompleteMechanism.
//
// Statically linked mechanisms implement the Mechanism interface and are
// turned into a symbol map by Symbols, so they go through the same Bind path
// as mechanisms loaded at runtime.
package mech
