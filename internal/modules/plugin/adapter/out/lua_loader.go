package out

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	hclog "github.com/hashicorp/go-hclog"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"plughost/internal/modules/plugin/domain"
	pluginout "plughost/internal/modules/plugin/port/out"
)

// Globals removed from every plugin state. io, os, debug and package are
// never opened.
var luaBlockedGlobals = []string{"dofile", "loadfile", "load", "loadstring", "require", "module"}

// LuaLoader runs .lua source plugins in a sandboxed gopher-lua state.
type LuaLoader struct {
	assets pluginout.AssetHost
	logger hclog.Logger
}

func NewLuaLoader(assets pluginout.AssetHost, logger hclog.Logger) *LuaLoader {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &LuaLoader{assets: assets, logger: logger.Named("lua")}
}

func (l *LuaLoader) Import(ctx context.Context, req pluginout.ImportRequest) (pluginout.Module, error) {
	raw, err := fetchEntry(ctx, l.assets, req)
	if err != nil {
		return nil, err
	}
	chunk, err := parse.Parse(bytes.NewReader(raw), req.EntryURL)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", req.EntryURL, err)
	}
	proto, err := lua.Compile(chunk, req.EntryURL)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", req.EntryURL, err)
	}
	return &luaModule{proto: proto, logger: l.logger.With("plugin", req.PluginID)}, nil
}

type luaModule struct {
	proto  *lua.FunctionProto
	logger hclog.Logger
}

func (m *luaModule) Bootstrap(ctx context.Context, bc domain.BootstrapContext) (err error) {
	L := newSandboxedState()
	defer L.Close()
	L.SetContext(ctx)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
		if err != nil && ctx.Err() != nil && !errors.Is(err, domain.ErrPluginTimeout) {
			err = fmt.Errorf("%w: %v", domain.ErrPluginTimeout, err)
		}
	}()

	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		args := make([]any, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			args = append(args, fromLua(L.Get(i)))
		}
		m.logger.Info("print", "args", args)
		return 0
	}))

	L.Push(L.NewFunctionFromProto(m.proto))
	if err := L.PCall(0, 1, nil); err != nil {
		return fmt.Errorf("evaluate module: %w", err)
	}
	exported := L.Get(-1)
	L.Pop(1)

	bootstrap := findLuaBootstrap(L, exported)
	if bootstrap == nil {
		return domain.ErrNoBootstrap
	}
	L.Push(bootstrap)
	L.Push(m.contextTable(L, bc))
	if err := L.PCall(1, 0, nil); err != nil {
		return err
	}
	return nil
}

func (m *luaModule) Close() error {
	return nil
}

func findLuaBootstrap(L *lua.LState, exported lua.LValue) *lua.LFunction {
	switch v := exported.(type) {
	case *lua.LFunction:
		return v
	case *lua.LTable:
		if fn, ok := v.RawGetString("bootstrap").(*lua.LFunction); ok {
			return fn
		}
	}
	if fn, ok := L.GetGlobal("bootstrap").(*lua.LFunction); ok {
		return fn
	}
	return nil
}

func (m *luaModule) contextTable(L *lua.LState, bc domain.BootstrapContext) *lua.LTable {
	data := bootstrapData(bc)
	tbl := L.NewTable()
	for luaKey, key := range map[string]string{
		"plugin_id":   "pluginId",
		"base_url":    "baseUrl",
		"manifest":    "manifest",
		"permissions": "permissions",
		"user":        "user",
		"config":      "config",
	} {
		tbl.RawSetString(luaKey, toLua(L, data[key]))
	}
	register := func(kind domain.ExtensionKind) lua.LGFunction {
		return func(L *lua.LState) int {
			slot := L.CheckString(1)
			c := luaContribution(L.Get(2))
			var ext domain.Extension
			if kind == domain.ExtensionAction {
				ext = bc.Host.RegisterAction(slot, c)
			} else {
				ext = bc.Host.RegisterComponent(slot, c)
			}
			L.Push(lua.LNumber(ext.ID))
			return 1
		}
	}
	L.SetField(tbl, "register_component", L.NewFunction(register(domain.ExtensionComponent)))
	L.SetField(tbl, "register_action", L.NewFunction(register(domain.ExtensionAction)))
	L.SetField(tbl, "clear_slot", L.NewFunction(func(L *lua.LState) int {
		bc.Host.ClearSlot(L.CheckString(1))
		return 0
	}))
	L.SetField(tbl, "resolve_url", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(bc.Host.ResolveURL(L.CheckString(1))))
		return 1
	}))
	L.SetField(tbl, "has_permission", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(bc.Host.HasPermission(domain.Permission(L.CheckString(1)))))
		return 1
	}))
	return tbl
}

func newSandboxedState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	for _, name := range luaBlockedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

func luaContribution(v lua.LValue) domain.Contribution {
	return contribution(fromLua(v))
}

func toLua(L *lua.LState, v any) lua.LValue {
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(t)
	case string:
		return lua.LString(t)
	case int:
		return lua.LNumber(t)
	case int64:
		return lua.LNumber(t)
	case uint64:
		return lua.LNumber(t)
	case float64:
		return lua.LNumber(t)
	case []string:
		tbl := L.NewTable()
		for _, item := range t {
			tbl.Append(lua.LString(item))
		}
		return tbl
	case []any:
		tbl := L.NewTable()
		for _, item := range t {
			tbl.Append(toLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range t {
			tbl.RawSetString(k, toLua(L, item))
		}
		return tbl
	case map[string]string:
		tbl := L.NewTable()
		for k, item := range t {
			tbl.RawSetString(k, lua.LString(item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprint(t))
	}
}

// fromLua converts tables with contiguous integer keys to slices and any
// other table to a string-keyed map. Cycles convert to nil.
func fromLua(v lua.LValue) any {
	return fromLuaVisited(v, map[*lua.LTable]bool{})
}

func fromLuaVisited(v lua.LValue, visited map[*lua.LTable]bool) any {
	switch t := v.(type) {
	case lua.LBool:
		return bool(t)
	case lua.LNumber:
		f := float64(t)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(t)
	case *lua.LTable:
		if visited[t] {
			return nil
		}
		visited[t] = true
		if n := t.MaxN(); n > 0 && n == countEntries(t) {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, fromLuaVisited(t.RawGetInt(i), visited))
			}
			return out
		}
		out := map[string]any{}
		t.ForEach(func(k, item lua.LValue) {
			out[k.String()] = fromLuaVisited(item, visited)
		})
		return out
	default:
		return nil
	}
}

func countEntries(t *lua.LTable) int {
	n := 0
	t.ForEach(func(_, _ lua.LValue) { n++ })
	return n
}
