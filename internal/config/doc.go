// Package config loads armtc settings from an optional Lua file.
//
// The file runs in a sandboxed gopher-lua VM with os, io and module loading
// removed, and with a read-only "platform" table describing the host, so a
// configuration can branch on the operating system without being able to
// touch it. The file must assign a global "armtc" table:
//
//	armtc = {
//	  index  = { source = "github", repo = "arm/arm-toolchain" },
//	  http   = { timeout = 600 },
//	  verify = { keyring = "/etc/armtc/arm.asc" },
//	  env    = { TARGET_CC = "clang", TARGET_AR = "llvm-ar" },
//	}
//
// Environment variables override the file; see ApplyEnv.
package config
