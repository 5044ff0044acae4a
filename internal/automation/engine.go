//go:build !no_automation

package automation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"bticino-bridge/internal/accessory"
)

// Source is the accessory state exposed to scripts.
type Source interface {
	Events() *accessory.EventBus
	Ready() bool
	LockState() (locked, known bool)
}

// luaEventHandler is a registered Lua callback for one event type.
type luaEventHandler struct {
	eventType string
	fn        *lua.LFunction
}

// scriptVM is a running Lua VM for a single script.
type scriptVM struct {
	id       string
	state    *lua.LState
	commands chan func(*lua.LState) // serializes Lua access
	handlers []luaEventHandler
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex // protects handlers
}

// Engine runs one sandboxed Lua VM per script and dispatches bridge events
// to the handlers scripts register.
type Engine struct {
	source Source
	loader *Loader
	logger *slog.Logger

	mu    sync.Mutex
	vms   map[string]*scriptVM // script ID -> running VM
	unsub func()
}

// NewEngine creates a new automation engine. loader may be nil when
// scripts are started individually.
func NewEngine(source Source, loader *Loader, logger *slog.Logger) *Engine {
	return &Engine{
		source: source,
		loader: loader,
		logger: logger.With("component", "automation"),
		vms:    make(map[string]*scriptVM),
	}
}

// Start subscribes to the event bus and starts every enabled script.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.unsub == nil {
		e.unsub = e.source.Events().OnAll(e.dispatchEvent)
	}
	e.mu.Unlock()

	if e.loader == nil {
		return
	}
	scripts, err := e.loader.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}
	for _, s := range scripts {
		if !s.Meta.Enabled {
			e.logger.Debug("script disabled", "id", s.ID)
			continue
		}
		if err := e.StartScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
		}
	}
	e.logger.Info("automation engine started", "dir", e.loader.Dir(), "scripts", len(e.Scripts()))
}

// Stop cancels every VM, waits for their loops to exit and unsubscribes.
func (e *Engine) Stop() {
	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for id, vm := range e.vms {
		vm.cancel()
		vms = append(vms, vm)
		delete(e.vms, id)
	}
	if e.unsub != nil {
		e.unsub()
		e.unsub = nil
	}
	e.mu.Unlock()

	for _, vm := range vms {
		<-vm.done
	}
	e.logger.Info("automation engine stopped")
}

// Scripts returns the IDs of running scripts, sorted.
func (e *Engine) Scripts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.vms))
	for id := range e.vms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StartScript runs the script's top-level code, which registers handlers,
// and keeps the VM alive for event dispatch. A running script with the
// same ID is replaced.
func (e *Engine) StartScript(s *Script) error {
	e.stopScript(s.ID)

	ctx, cancel := context.WithCancel(context.Background())
	L := newSandbox()
	L.SetContext(ctx)

	vm := &scriptVM{
		id:       s.ID,
		state:    L,
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	registerBticinoModule(L, vm, e)

	if err := L.DoString(s.LuaCode); err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	e.vms[s.ID] = vm
	e.mu.Unlock()

	go func() {
		defer close(vm.done)
		defer L.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-vm.commands:
				fn(L)
			}
		}
	}()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name)
	return nil
}

func (e *Engine) stopScript(id string) {
	e.mu.Lock()
	vm, ok := e.vms[id]
	if ok {
		delete(e.vms, id)
	}
	e.mu.Unlock()

	if ok {
		vm.cancel()
		<-vm.done
		e.logger.Info("script stopped", "id", id)
	}
}

// newSandbox returns a Lua state without filesystem, process or loader access.
func newSandbox() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "loadstring", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

// dispatchEvent routes a bus event to every matching Lua handler.
func (e *Engine) dispatchEvent(event accessory.Event) {
	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		vms = append(vms, vm)
	}
	e.mu.Unlock()

	for _, vm := range vms {
		vm.mu.Lock()
		handlers := make([]luaEventHandler, len(vm.handlers))
		copy(handlers, vm.handlers)
		vm.mu.Unlock()

		for _, h := range handlers {
			if h.eventType != event.Type {
				continue
			}
			fn := h.fn
			if !vm.submit(func(L *lua.LState) { e.callHandler(L, vm.id, fn, event) }) {
				e.logger.Warn("script command channel full, dropping event", "id", vm.id, "type", event.Type)
			}
		}
	}
}

// submit queues fn on the VM loop. It reports false when the queue is full;
// a stopped VM silently discards.
func (vm *scriptVM) submit(fn func(*lua.LState)) bool {
	select {
	case <-vm.ctx.Done():
		return true
	default:
	}
	select {
	case vm.commands <- fn:
		return true
	default:
		return false
	}
}

func (e *Engine) callHandler(L *lua.LState, id string, fn *lua.LFunction, event accessory.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua handler panic", "id", id, "err", r)
		}
	}()

	if err := L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, eventTable(L, event)); err != nil {
		e.logger.Error("lua handler error", "id", id, "type", event.Type, "err", err)
	}
}

// eventTable builds the table passed to handlers: type, timestamp (unix
// seconds) and the event data fields.
func eventTable(L *lua.LState, event accessory.Event) *lua.LTable {
	t := L.NewTable()
	for k, v := range event.Data {
		t.RawSetString(k, goToLua(L, v))
	}
	t.RawSetString("type", lua.LString(event.Type))
	if !event.Timestamp.IsZero() {
		t.RawSetString("timestamp", lua.LNumber(event.Timestamp.Unix()))
	}
	return t
}

// goToLua converts a Go value to a Lua value.
func goToLua(L *lua.LState, v interface{}) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case uint16:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case map[string]interface{}:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []interface{}:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	case []string:
		t := L.NewTable()
		for i, s := range val {
			t.RawSetInt(i+1, lua.LString(s))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
