package platform

import (
	lua "github.com/yuin/gopher-lua"
)

// InjectLuaTable installs a read-only global "platform" table describing
// info. Call it before running any user configuration.
func InjectLuaTable(L *lua.LState, info *Info) {
	t := L.NewTable()

	L.SetField(t, "os", lua.LString(info.OS))
	L.SetField(t, "arch", lua.LString(info.Arch))
	L.SetField(t, "arch_raw", lua.LString(info.ArchRaw))
	L.SetField(t, "key", lua.LString(info.Key()))
	L.SetField(t, "is_linux", lua.LBool(info.IsLinux()))
	L.SetField(t, "is_macos", lua.LBool(info.IsMacOS()))
	L.SetField(t, "is_windows", lua.LBool(info.IsWindows()))

	if info.Distro != nil {
		distro := L.NewTable()
		L.SetField(distro, "id", lua.LString(info.Distro.ID))
		L.SetField(distro, "family", lua.LString(info.Distro.Family))
		L.SetField(distro, "version", lua.LString(info.Distro.Version))
		L.SetField(t, "distro", makeReadOnly(L, distro, "platform.distro"))
	}

	// when(cond, value) returns value if cond is true, nil otherwise.
	L.SetField(t, "when", L.NewFunction(func(L *lua.LState) int {
		if L.CheckBool(1) {
			L.Push(L.Get(2))
		} else {
			L.Push(lua.LNil)
		}
		return 1
	}))

	L.SetGlobal("platform", makeReadOnly(L, t, "platform"))
}

// makeReadOnly returns an empty proxy whose metatable forwards reads to
// table and rejects writes.
func makeReadOnly(L *lua.LState, table *lua.LTable, name string) *lua.LTable {
	mt := L.NewTable()
	L.SetField(mt, "__index", table)
	L.SetField(mt, "__newindex", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("%s is read-only", name)
		return 0
	}))
	L.SetField(mt, "__metatable", lua.LString("protected"))

	proxy := L.NewTable()
	L.SetMetatable(proxy, mt)
	return proxy
}
