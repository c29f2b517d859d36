// Package auth selects one authentication mechanism at run time and
// dispatches credential operations to it.
//
// A Context binds a mechanism type string ("auth/none", "auth/jwt", ...) to
// the nine operations of a mechanism found by a rack.Rack:
//
//	c, err := auth.NewContext("auth/jwt", auth.WithConfigProvider(cfg))
//	if err != nil { ... }
//	if err := c.Resolve(ctx); err != nil { ... }
//	cred := c.Alloc()
//	defer c.Free(cred)
//	err = c.Activate(cred, 300)
//
// Dispatch on an unresolved or nil Context never panics: Alloc returns nil,
// Free, Pack and Print do nothing, Activate, Verify and Unpack return
// ErrDispatchUnavailable, and UID and GID return mech.NobodyID.
//
// The package-level functions (Alloc, Verify, ...) operate on a process-wide
// Context created by Init from the configured mechanism type and plugin
// directory. Programs that prefer explicit wiring call Init once at startup
// and pass Default() to the components that need it.
//
// Sub-packages:
//   - mech/: operation table, Mechanism interface, name-based binding
//   - rack/: mechanism discovery and module lifecycle
//   - loader/builtin/, loader/sharedobj/: module loaders
//   - mechanisms/: the none, jwt and krb5 mechanisms
package auth
