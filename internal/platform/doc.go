// Package platform detects the host the installer runs on.
//
// The facts end up in install receipts and, for scripted descriptors, in a
// read-only Lua table named platform.
package platform
