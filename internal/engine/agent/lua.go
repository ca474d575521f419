package agent

import (
	"context"
	"fmt"
	"math"
	"os"

	lua "github.com/yuin/gopher-lua"

	"github.com/nerrad567/divert-core/internal/catalog"
)

// maxTableDepth bounds Lua to Go conversion of nested or cyclic tables.
const maxTableDepth = 32

// LuaRunner evaluates <folder>_main.lua entry files in a sandboxed state.
//
// Each run gets a fresh state with only the base, table, string and math
// libraries. File loading, printing and randomness are removed. A log(msg)
// function is available for diagnostics.
type LuaRunner struct {
	logger Logger
}

// NewLuaRunner creates a LuaRunner.
func NewLuaRunner() *LuaRunner {
	return &LuaRunner{logger: noopLogger{}}
}

// Run evaluates the script at path and calls run_crew(inputs).
func (r *LuaRunner) Run(ctx context.Context, path string, inputs map[string]any) (any, error) {
	script, err := os.ReadFile(path) //nolint:gosec // path is resolved from the catalog root
	if err != nil {
		return nil, fmt.Errorf("reading lua entry: %w", err)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	L.SetContext(ctx)

	openSafeLibs(L)
	L.SetGlobal("log", L.NewFunction(func(L *lua.LState) int {
		r.logger.Info("lua team log", "entry", path, "message", L.CheckString(1))
		return 0
	}))

	if err := L.DoString(string(script)); err != nil {
		return nil, luaError(ctx, "loading", err)
	}

	fn, ok := L.GetGlobal(catalog.EntryFunction).(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryFunction, path)
	}

	L.Push(fn)
	L.Push(goToLua(L, nonNilInputs(inputs)))
	if err := L.PCall(1, 1, nil); err != nil {
		return nil, luaError(ctx, "running", err)
	}

	ret := L.Get(-1)
	L.Pop(1)
	return luaToGo(ret, 0), nil
}

func luaError(ctx context.Context, stage string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("lua %s: %w", stage, ctxErr)
	}
	return fmt.Errorf("lua %s: %w", stage, err)
}

// openSafeLibs loads only the libraries a team script needs.
func openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)
	for _, name := range []string{"loadfile", "dofile", "load", "loadstring", "print", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	if tbl, ok := L.GetGlobal("math").(*lua.LTable); ok {
		L.SetField(tbl, "random", lua.LNil)
		L.SetField(tbl, "randomseed", lua.LNil)
	}
}

// goToLua converts decoded JSON-like Go values into Lua values.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, goToLua(L, item))
		}
		return tbl
	case []string:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, lua.LString(item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			L.SetField(tbl, k, goToLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// luaToGo converts a Lua value into JSON-friendly Go values. Tables with
// keys 1..n become slices, everything else becomes a map keyed by string.
func luaToGo(v lua.LValue, depth int) any {
	if depth > maxTableDepth {
		return nil
	}
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			// JSON has no representation for these
			return nil
		}
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(val)
	case *lua.LTable:
		return tableToGo(val, depth)
	default:
		return val.String()
	}
}

func tableToGo(tbl *lua.LTable, depth int) any {
	n := tbl.Len()
	count := 0
	tbl.ForEach(func(lua.LValue, lua.LValue) { count++ })

	if n > 0 && n == count {
		out := make([]any, n)
		for i := 1; i <= n; i++ {
			out[i-1] = luaToGo(tbl.RawGetInt(i), depth+1)
		}
		return out
	}

	out := make(map[string]any, count)
	tbl.ForEach(func(k, v lua.LValue) {
		out[k.String()] = luaToGo(v, depth+1)
	})
	return out
}
