package formula

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	domain "github.com/oshokin/formula-install/internal/domain/formula"
	"github.com/oshokin/formula-install/internal/platform"
)

// ScriptError reports a Lua descriptor that failed to run or has the wrong shape.
type ScriptError struct {
	Message string
	// Detail is the raw interpreter message.
	Detail string
}

func (e *ScriptError) Error() string {
	if e.Detail == "" {
		return e.Message
	}

	return e.Message + ": " + e.Detail
}

// Unwrap makes script errors match domain.ErrInvalidDescriptor.
func (e *ScriptError) Unwrap() error {
	return domain.ErrInvalidDescriptor
}

// ParseLua runs code in a sandboxed VM and reads the global "formula" table.
// The script is interrupted when ctx is done.
func (l *Loader) ParseLua(ctx context.Context, code string) (*domain.Descriptor, error) {
	L := newSandbox()
	defer L.Close()

	L.SetContext(ctx)

	if l != nil && l.Detector != nil {
		info, err := l.Detector.Detect(ctx)
		if err != nil {
			return nil, err
		}

		platform.Inject(L, info)
	}

	if err := L.DoString(code); err != nil {
		return nil, &ScriptError{Message: "lua error", Detail: err.Error()}
	}

	table, ok := L.GetGlobal("formula").(*lua.LTable)
	if !ok {
		return nil, &ScriptError{
			Message: "missing formula table",
			Detail:  fmt.Sprintf("expected table, got %s", L.GetGlobal("formula").Type()),
		}
	}

	return extractDescriptor(table)
}

// newSandbox returns a VM with only the base, table, string, and math libraries.
// The package library is never opened, so io and os are unreachable
// through package.loaded as well.
func newSandbox() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		L.SetGlobal(name, lua.LNil)
	}

	return L
}

func extractDescriptor(table *lua.LTable) (*domain.Descriptor, error) {
	d := &domain.Descriptor{
		Name:        stringField(table, "name"),
		Description: stringField(table, "description"),
		License:     stringField(table, "license"),
		Homepage:    stringField(table, "homepage"),
		Version:     stringField(table, "version"),
		URL:         stringField(table, "url"),
		SHA256:      stringField(table, "sha256"),
		Head:        stringField(table, "head"),
		PURL:        stringField(table, "purl"),
		TestCommand: stringList(table.RawGetString("test")),
	}

	if sig, ok := table.RawGetString("signature").(*lua.LTable); ok {
		d.Signature = &domain.Signature{
			URL:     stringField(sig, "url"),
			Keyring: stringField(sig, "keyring"),
		}
	}

	if deps, ok := table.RawGetString("dependencies").(*lua.LTable); ok {
		for i := 1; i <= deps.Len(); i++ {
			dep, isTable := deps.RawGetInt(i).(*lua.LTable)
			if !isTable {
				return nil, &ScriptError{Message: fmt.Sprintf("dependencies[%d] must be a table", i)}
			}

			d.Dependencies = append(d.Dependencies, domain.Dependency{
				Name:  stringField(dep, "name"),
				Phase: domain.Phase(stringField(dep, "phase")),
			})
		}
	}

	if b, ok := table.RawGetString("build").(*lua.LTable); ok {
		d.BuildCommand = stringList(b.RawGetString("command"))

		if env, isTable := b.RawGetString("env").(*lua.LTable); isTable {
			d.BuildEnv = make(map[string]string)

			env.ForEach(func(key, value lua.LValue) {
				if key.Type() == lua.LTString && value.Type() == lua.LTString {
					d.BuildEnv[key.String()] = value.String()
				}
			})
		}
	}

	if steps, ok := table.RawGetString("install").(*lua.LTable); ok {
		for i := 1; i <= steps.Len(); i++ {
			step, isTable := steps.RawGetInt(i).(*lua.LTable)
			if !isTable {
				return nil, &ScriptError{Message: fmt.Sprintf("install[%d] must be a table", i)}
			}

			d.Install = append(d.Install, domain.InstallStep{
				Source:   stringField(step, "source"),
				Category: domain.Category(stringField(step, "category")),
				As:       stringField(step, "as"),
			})
		}
	}

	return d, nil
}

func stringField(table *lua.LTable, key string) string {
	if value := table.RawGetString(key); value.Type() == lua.LTString {
		return value.String()
	}

	return ""
}

// stringList reads a Lua array of strings, skipping nils left by platform.when-style conditionals.
func stringList(value lua.LValue) []string {
	table, ok := value.(*lua.LTable)
	if !ok {
		return nil
	}

	list := make([]string, 0, table.Len())

	for i := 1; i <= table.Len(); i++ {
		if item := table.RawGetInt(i); item.Type() == lua.LTString {
			list = append(list, item.String())
		}
	}

	return list
}
