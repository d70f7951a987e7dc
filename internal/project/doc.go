// Package project owns local filesystem concerns for an Unreal project
// checkout: locating the project descriptor, locating an installed
// editor binary, and patching the settings remote execution depends on.
//
// Ownership boundary:
// - .uproject discovery and project naming
// - editor install probing
// - descriptor + DefaultEngine.ini remediation
//
// Nothing in this package touches the network.
package project
