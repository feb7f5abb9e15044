// Package index resolves version tokens against a remote release index.
//
// Two index sources are supported: the GitHub releases API of the Arm
// toolchain repository, and a static JSON manifest for mirrors. Both are
// read-only HTTP(S) data sources; resolution never touches the disk and is
// never retried internally, so a failed Resolve can simply be called again.
package index
