package config

import (
	"context"

	lua "github.com/yuin/gopher-lua"
)

// unsafeGlobals can reach the filesystem, spawn processes, or load code from
// outside the config string.
var unsafeGlobals = []string{
	"os", "io", "require", "dofile", "loadfile", "load", "loadstring", "debug", "package",
}

// newSandboxedVM returns a Lua state with only string, table, math and the
// basic functions available. Execution is bound to ctx so a runaway config
// is interrupted when the caller gives up.
func newSandboxedVM(ctx context.Context) *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	for _, name := range unsafeGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetContext(ctx)
	return L
}
