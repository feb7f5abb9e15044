// Package domain holds the value types shared by every armtc component:
// versions, release descriptors, toolchain targets, the on-disk layout of a
// data root, and the error kinds that callers branch on.
//
// Nothing in this package performs I/O beyond creating the layout
// directories.
package domain
