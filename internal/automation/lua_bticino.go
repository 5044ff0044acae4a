//go:build !no_automation

package automation

import (
	"time"

	lua "github.com/yuin/gopher-lua"
)

const maxHandlersPerScript = 100

// registerBticinoModule registers the `bticino` global table in a Lua state.
func registerBticinoModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()

	mod.RawSetString("on", L.NewFunction(func(L *lua.LState) int {
		return bticinoOn(L, vm)
	}))
	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		return bticinoLog(L, vm, e)
	}))
	mod.RawSetString("after", L.NewFunction(func(L *lua.LState) int {
		return bticinoAfter(L, vm, e)
	}))
	mod.RawSetString("status", L.NewFunction(func(L *lua.LState) int {
		return bticinoStatus(L, e)
	}))

	L.SetGlobal("bticino", mod)
}

// bticino.on(event_type, fn)
func bticinoOn(L *lua.LState, vm *scriptVM) int {
	eventType := L.CheckString(1)
	fn := L.CheckFunction(2)

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if len(vm.handlers) >= maxHandlersPerScript {
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, luaEventHandler{eventType: eventType, fn: fn})
	return 0
}

// bticino.log(msg)
func bticinoLog(L *lua.LState, vm *scriptVM, e *Engine) int {
	msg := L.CheckString(1)
	e.logger.Info("script log", "id", vm.id, "msg", msg)
	return 0
}

// bticino.after(seconds, fn)
func bticinoAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := float64(L.CheckNumber(1))
	fn := L.CheckFunction(2)
	if seconds < 0 {
		L.ArgError(1, "delay must not be negative")
		return 0
	}

	go func() {
		timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}

		ok := vm.submit(func(L *lua.LState) {
			if err := L.CallByParam(lua.P{
				Fn:      fn,
				NRet:    0,
				Protect: true,
			}); err != nil {
				e.logger.Error("after callback error", "id", vm.id, "err", err)
			}
		})
		if !ok {
			e.logger.Warn("after: command channel full", "id", vm.id)
		}
	}()
	return 0
}

// bticino.status() -> {ready=bool, locked=bool|nil}
func bticinoStatus(L *lua.LState, e *Engine) int {
	t := L.NewTable()
	t.RawSetString("ready", lua.LBool(e.source.Ready()))
	if locked, known := e.source.LockState(); known {
		t.RawSetString("locked", lua.LBool(locked))
	}
	L.Push(t)
	return 1
}
