package platform

import (
	lua "github.com/yuin/gopher-lua"
)

// Inject exposes info to scripts as the read-only global "platform".
func Inject(L *lua.LState, info *Info) { //nolint:gocritic // L is the gopher-lua convention.
	table := L.NewTable()

	L.SetField(table, "os", lua.LString(info.OS))
	L.SetField(table, "arch", lua.LString(info.Arch))
	L.SetField(table, "is_linux", lua.LBool(info.OS == "linux"))
	L.SetField(table, "is_macos", lua.LBool(info.OS == "darwin"))
	L.SetField(table, "is_windows", lua.LBool(info.OS == "windows"))
	L.SetField(table, "is_amd64", lua.LBool(info.Arch == "amd64"))
	L.SetField(table, "is_arm64", lua.LBool(info.Arch == "arm64"))

	if info.Distro != "" {
		distro := L.NewTable()
		L.SetField(distro, "id", lua.LString(info.Distro))
		L.SetField(distro, "family", lua.LString(info.Family))
		L.SetField(distro, "version", lua.LString(info.DistroVersion))
		L.SetField(table, "distro", distro)
	}

	L.SetGlobal("platform", readOnly(L, table))
}

func readOnly(L *lua.LState, table *lua.LTable) *lua.LTable { //nolint:gocritic // See Inject.
	mt := L.NewTable()
	L.SetField(mt, "__index", table)
	L.SetField(mt, "__newindex", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("platform table is read-only")

		return 0
	}))
	L.SetField(mt, "__metatable", lua.LString("protected"))

	proxy := L.NewTable()
	L.SetMetatable(proxy, mt)

	return proxy
}
