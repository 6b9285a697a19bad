package script

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

// logModule exposes zerolog to scripts as require("log")
type logModule struct {
	script string
}

func newLogModule(script string) *logModule {
	return &logModule{script: script}
}

// Loader is the module loader for Lua
func (m *logModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "debug", L.NewFunction(m.level(zerolog.DebugLevel)))
	L.SetField(mod, "info", L.NewFunction(m.level(zerolog.InfoLevel)))
	L.SetField(mod, "warn", L.NewFunction(m.level(zerolog.WarnLevel)))
	L.SetField(mod, "error", L.NewFunction(m.level(zerolog.ErrorLevel)))

	L.Push(mod)
	return 1
}

func (m *logModule) level(lvl zerolog.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)

		event := log.WithLevel(lvl).Str("source", "lua").Str("script", m.script)
		if tbl, ok := L.Get(2).(*lua.LTable); ok {
			tbl.ForEach(func(key, value lua.LValue) {
				event = event.Interface(lua.LVAsString(key), luaToGo(value))
			})
		}
		event.Msg(msg)
		return 0
	}
}

// luaToGo converts scalar and table values for structured log fields
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		if n := val.Len(); n > 0 {
			arr := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, luaToGo(val.RawGetInt(i)))
			}
			return arr
		}
		m := make(map[string]any)
		val.ForEach(func(k, v lua.LValue) {
			m[lua.LVAsString(k)] = luaToGo(v)
		})
		return m
	default:
		return nil
	}
}
