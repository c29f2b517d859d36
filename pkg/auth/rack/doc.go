// Package rack implements the mechanism registry ("plugin rack").
//
// A Rack wraps a Loader, which knows how to discover and open mechanism
// modules. The rack indexes discovered modules by type string on first use,
// opens the one matching a requested type, and binds its nine operations by
// name into an mech.Ops table.
//
// Tearing a rack down is refused while any opened module reports itself
// active (typically because credentials it allocated are still live). A
// successful teardown invalidates every module handle the rack issued.
package rack
