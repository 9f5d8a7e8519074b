// Package scripting hosts user-supplied Lua hooks (such as topic inference)
// in a sandboxed gopher-lua state.
package scripting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/lexlapax/dimmem/pkg/entity"
	"github.com/lexlapax/dimmem/pkg/errors"
	"github.com/lexlapax/dimmem/pkg/log"
)

// ErrFunctionNotFound is returned when a called function is not defined by any loaded script.
var ErrFunctionNotFound = errors.Wrap(errors.ErrNotFound, "lua function not found")

// Engine is the interface for the Lua scripting engine.
type Engine interface {
	// LoadScript loads a Lua script with the given name and content.
	LoadScript(name string, content []byte) error

	// LoadScriptFile loads a Lua script from a file path.
	LoadScriptFile(path string) error

	// LoadScriptDir loads all *.lua files of a directory in lexical order.
	LoadScriptDir(dir string) error

	// HasFunction reports whether a global function with that name is defined.
	HasFunction(name string) bool

	// ExecuteFunction calls a Lua function with the given arguments and returns its first result.
	ExecuteFunction(ctx context.Context, funcName string, args ...interface{}) (interface{}, error)

	// Close releases resources associated with the engine.
	Close() error
}

// Config contains configuration options for the scripting engine.
type Config struct {
	// EnableSandboxing restricts scripts to the base, string, table and math libraries
	EnableSandboxing bool

	// ScriptTimeout bounds a single function call
	ScriptTimeout time.Duration

	// CallStackSize bounds recursion depth
	CallStackSize int
}

// DefaultConfig returns the default configuration for the scripting engine.
func DefaultConfig() Config {
	return Config{
		EnableSandboxing: true,
		ScriptTimeout:    time.Second,
		CallStackSize:    lua.CallStackSize,
	}
}

// LuaEngine implements Engine on a single gopher-lua state. An LState is not
// safe for concurrent use, so every call holds mu.
type LuaEngine struct {
	mu      sync.Mutex
	state   *lua.LState
	config  Config
	scripts []string
	closed  bool
}

// NewLuaEngine creates a Lua state configured by config.
func NewLuaEngine(config Config) (*LuaEngine, error) {
	if config.ScriptTimeout <= 0 {
		config.ScriptTimeout = DefaultConfig().ScriptTimeout
	}
	if config.CallStackSize <= 0 {
		config.CallStackSize = lua.CallStackSize
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs:  config.EnableSandboxing,
		CallStackSize: config.CallStackSize,
	})
	if config.EnableSandboxing {
		if err := setupSandbox(L); err != nil {
			L.Close()
			return nil, err
		}
	}
	registerAPIFunctions(L)

	log.Debug("Created Lua engine", "sandboxed", config.EnableSandboxing, "timeout", config.ScriptTimeout)
	return &LuaEngine{state: L, config: config}, nil
}

// LoadScript implements Engine.
func (e *LuaEngine) LoadScript(name string, content []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return fmt.Errorf("lua engine closed: %w", errors.ErrLuaExecution)
	}

	fn, err := e.state.Load(bytesReader(content), name)
	if err != nil {
		return fmt.Errorf("failed to compile script %s: %v: %w", name, err, errors.ErrLuaExecution)
	}

	e.state.Push(fn)
	if err := e.state.PCall(0, lua.MultRet, nil); err != nil {
		return fmt.Errorf("failed to run script %s: %v: %w", name, err, errors.ErrLuaExecution)
	}
	e.state.SetTop(0)

	e.scripts = append(e.scripts, name)
	log.Debug("Loaded Lua script", "name", name)
	return nil
}

// LoadScriptFile implements Engine.
func (e *LuaEngine) LoadScriptFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return e.LoadScript(filepath.Base(path), content)
}

// LoadScriptDir implements Engine.
func (e *LuaEngine) LoadScriptDir(dir string) error {
	paths, err := filepath.Glob(filepath.Join(dir, "*.lua"))
	if err != nil {
		return fmt.Errorf("failed to list scripts in %s: %w", dir, err)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := e.LoadScriptFile(path); err != nil {
			return err
		}
	}
	return nil
}

// HasFunction implements Engine.
func (e *LuaEngine) HasFunction(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return false
	}
	_, ok := e.state.GetGlobal(name).(*lua.LFunction)
	return ok
}

// ExecuteFunction implements Engine. The call is bounded by both ctx and the
// configured script timeout.
func (e *LuaEngine) ExecuteFunction(ctx context.Context, funcName string, args ...interface{}) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, fmt.Errorf("lua engine closed: %w", errors.ErrLuaExecution)
	}

	fn, ok := e.state.GetGlobal(funcName).(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%s: %w", funcName, ErrFunctionNotFound)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.config.ScriptTimeout)
	defer cancel()

	e.state.SetContext(callCtx)
	defer e.state.RemoveContext()

	setRequestGlobal(e.state, ctx)

	luaArgs := make([]lua.LValue, len(args))
	for i, arg := range args {
		luaArgs[i] = toLua(e.state, arg)
	}

	if err := e.state.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, luaArgs...); err != nil {
		if ctxErr := callCtx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("lua function %s: %w: %w", funcName, errors.ErrLuaExecution, ctxErr)
		}
		return nil, fmt.Errorf("lua function %s: %v: %w", funcName, err, errors.ErrLuaExecution)
	}

	ret := e.state.Get(-1)
	e.state.Pop(1)
	return fromLua(ret), nil
}

// Close implements Engine.
func (e *LuaEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.closed {
		e.state.Close()
		e.closed = true
	}
	return nil
}

// setRequestGlobal exposes the caller's identity to scripts as the global
// "request" table.
func setRequestGlobal(L *lua.LState, ctx context.Context) {
	request := L.NewTable()
	if entityCtx, ok := entity.GetEntityContext(ctx); ok {
		request.RawSetString("user_id", lua.LString(entityCtx.UserID))
		request.RawSetString("conversation_id", lua.LString(entityCtx.ConversationID))
	}
	if deadline, ok := ctx.Deadline(); ok {
		request.RawSetString("deadline", lua.LNumber(deadline.Unix()))
	}
	L.SetGlobal("request", request)
}
