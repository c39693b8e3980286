package luaplugin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/agentx-labs/kiln/internal/activation"
	"github.com/agentx-labs/kiln/internal/deps"
)

// Script is a Lua activation script.
type Script struct {
	// Name identifies the script in errors, e.g. "schema/activate.lua".
	Name   string
	Source []byte
	// Assets is the plugin directory, read by kiln.asset.
	Assets fs.FS
	Logger *slog.Logger
}

// Run executes the script's activate function against ac. Errors raised
// by kiln calls keep their type, so a collision inside a script is still a
// *activation.CollisionError.
func (s *Script) Run(ctx context.Context, ac *activation.Context) error {
	L := newState(ctx)
	defer L.Close()

	b := &bridge{ctx: ctx, ac: ac, assets: s.Assets, log: s.logger()}
	L.SetGlobal("print", L.NewFunction(b.print))

	err := doWithRecovery(func() error {
		fn, err := L.Load(strings.NewReader(string(s.Source)), s.Name)
		if err != nil {
			return fmt.Errorf("loading %s: %w", s.Name, err)
		}
		L.Push(fn)
		if err := L.PCall(0, 0, nil); err != nil {
			return b.wrap(s.Name, err)
		}

		activate := L.GetGlobal("activate")
		if activate.Type() != lua.LTFunction {
			return fmt.Errorf("%s: %w", s.Name, ErrNoEntryPoint)
		}
		L.Push(activate)
		L.Push(b.module(L))
		if err := L.PCall(1, 0, nil); err != nil {
			return b.wrap(s.Name, err)
		}
		return nil
	})
	return err
}

func (s *Script) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.Logger
}

// bridge exposes the activation context to Lua.
type bridge struct {
	ctx    context.Context
	ac     *activation.Context
	assets fs.FS
	log    *slog.Logger
	goErr  error
}

func (b *bridge) module(L *lua.LState) *lua.LTable {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"write":   b.write,
		"patch":   b.patch,
		"exists":  b.exists,
		"read":    b.read,
		"require": b.require,
		"asset":   b.asset,
	})
	L.SetField(mod, "plugin", lua.LString(b.ac.PluginID()))
	L.SetField(mod, "root", lua.LString(b.ac.Root()))
	return mod
}

// fail records a Go error and raises it in Lua.
func (b *bridge) fail(L *lua.LState, err error) int {
	if b.goErr == nil {
		b.goErr = err
	}
	L.RaiseError("%s", err.Error())
	return 0
}

// wrap prefers the Go error behind a raised Lua error.
func (b *bridge) wrap(name string, err error) error {
	if b.goErr != nil {
		return b.goErr
	}
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w: %s", name, ErrScriptFailed, apiErr.Object.String())
	}
	return fmt.Errorf("%s: %w: %v", name, ErrScriptFailed, err)
}

// kiln.write(path, content [, mode]) -> status
func (b *bridge) write(L *lua.LState) int {
	p := L.CheckString(1)
	content := L.CheckString(2)
	mode, err := activation.ParseMode(L.OptString(3, "create"))
	if err != nil {
		return b.fail(L, err)
	}
	res, err := b.ac.Write(b.ctx, activation.FileOperation{Path: p, Content: []byte(content), Mode: mode})
	if err != nil {
		return b.fail(L, err)
	}
	L.Push(lua.LString(res.Status))
	return 1
}

// kiln.patch{target=, anchor=, insertion=, token=, placement=, regexp=, optional=} -> status
func (b *bridge) patch(L *lua.LState) int {
	t := L.CheckTable(1)
	op := activation.PatchOperation{
		Target:    lua.LVAsString(t.RawGetString("target")),
		Anchor:    lua.LVAsString(t.RawGetString("anchor")),
		Insertion: lua.LVAsString(t.RawGetString("insertion")),
		Token:     lua.LVAsString(t.RawGetString("token")),
		Regexp:    lua.LVAsBool(t.RawGetString("regexp")),
		Optional:  lua.LVAsBool(t.RawGetString("optional")),
	}
	if lua.LVAsString(t.RawGetString("placement")) == "before" {
		op.Placement = activation.Before
	}
	res, err := b.ac.Patch(b.ctx, op)
	if err != nil {
		return b.fail(L, err)
	}
	L.Push(lua.LString(res.Status))
	return 1
}

// kiln.exists(path) -> bool
func (b *bridge) exists(L *lua.LState) int {
	ok, err := b.ac.Exists(b.ctx, L.CheckString(1))
	if err != nil {
		return b.fail(L, err)
	}
	L.Push(lua.LBool(ok))
	return 1
}

// kiln.read(path) -> string or nil
func (b *bridge) read(L *lua.LState) int {
	p := L.CheckString(1)
	ok, err := b.ac.Exists(b.ctx, p)
	if err != nil {
		return b.fail(L, err)
	}
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	data, err := b.ac.ReadFile(b.ctx, p)
	if err != nil {
		return b.fail(L, err)
	}
	L.Push(lua.LString(data))
	return 1
}

// kiln.require(name [, range])
func (b *bridge) require(L *lua.LState) int {
	req := deps.Requirement{Name: L.CheckString(1), Range: L.OptString(2, "")}
	if err := deps.ValidateRange(req.Range); err != nil {
		return b.fail(L, err)
	}
	b.ac.Require(req)
	return 0
}

// kiln.asset(path) -> string
func (b *bridge) asset(L *lua.LState) int {
	p := L.CheckString(1)
	if b.assets == nil {
		return b.fail(L, fmt.Errorf("asset %s: plugin has no asset directory", p))
	}
	data, err := fs.ReadFile(b.assets, path.Clean(p))
	if err != nil {
		return b.fail(L, fmt.Errorf("reading asset %s: %w", p, err))
	}
	L.Push(lua.LString(data))
	return 1
}

func (b *bridge) print(L *lua.LState) int {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	b.log.Info(strings.Join(parts, "\t"), "plugin", b.ac.PluginID())
	return 0
}
