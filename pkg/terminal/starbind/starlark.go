// Package starbind exposes the registers of a target to starlark scripts.
package starbind

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"runtime"
	"sort"
	"strings"
	"sync"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/vgstub/vgregs/pkg/proc/guest"
)

const (
	commandBuiltinName       = "vgregs_command"
	readRegisterBuiltinName  = "read_register"
	writeRegisterBuiltinName = "write_register"
	pcBuiltinName            = "pc"
	setPCBuiltinName         = "set_pc"
	helpBuiltinName          = "help"
	commandPrefix            = "command_"
	contextName              = "vgregs_context"
)

func init() {
	resolve.AllowSet = true
	resolve.AllowRecursion = true
	resolve.AllowGlobalReassign = true
}

// Context is the context in which starlark scripts are evaluated.
type Context interface {
	RegisterCommand(name, helpMsg string, cmdfn func(args string) error)
	CallCommand(cmdstr string) error

	// ReadRegister returns the protocol bytes of the register called name
	// in view, and false if the register is unavailable.
	ReadRegister(name string, view guest.View) ([]byte, bool, error)
	// WriteRegister writes val, which must be sized as the register, and
	// returns false if the register can not be written.
	WriteRegister(name string, view guest.View, val []byte) (bool, error)
	RegisterSize(name string) (int, error)

	PC() uint64
	SetPC(pc uint64) bool
}

// Env is the environment used to evaluate starlark scripts.
type Env struct {
	env       starlark.StringDict
	contextMu sync.Mutex
	thread    *starlark.Thread
	cancelfn  context.CancelFunc

	ctx Context
	out io.Writer
}

// New creates a new starlark binding environment.
func New(ctx Context, out io.Writer) *Env {
	env := &Env{ctx: ctx, out: out, env: starlark.StringDict{}}

	doc := map[string]string{}
	builtindoc := func(name, args, descr string) {
		doc[name] = name + args + "\n\n" + name + " " + descr
	}

	env.env[commandBuiltinName] = starlark.NewBuiltin(commandBuiltinName, func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, err
		}
		argstrs := make([]string, len(args))
		for i := range args {
			a, ok := args[i].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("argument of %s is not a string", commandBuiltinName)
			}
			argstrs[i] = string(a)
		}
		return starlark.None, decorateError(thread, env.ctx.CallCommand(strings.Join(argstrs, " ")))
	})
	builtindoc(commandBuiltinName, "(Command)", "executes a shell command.")

	env.env[readRegisterBuiltinName] = starlark.NewBuiltin(readRegisterBuiltinName, func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		var viewval starlark.Value = starlark.MakeInt(0)
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "view?", &viewval); err != nil {
			return nil, err
		}
		view, err := toView(viewval)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		buf, ok, err := env.ctx.ReadRegister(name, view)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		if !ok {
			return starlark.None, nil
		}
		return bytesToValue(buf), nil
	})
	builtindoc(readRegisterBuiltinName, "(Name, View=0)", "returns the value of a register, None if it is unavailable. Registers wider than 8 bytes are returned as little endian hex strings.")

	env.env[writeRegisterBuiltinName] = starlark.NewBuiltin(writeRegisterBuiltinName, func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		var val starlark.Value
		var viewval starlark.Value = starlark.MakeInt(0)
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "value", &val, "view?", &viewval); err != nil {
			return nil, err
		}
		view, err := toView(viewval)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		size, err := env.ctx.RegisterSize(name)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		buf, err := valueToBytes(val, size)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		ok, err := env.ctx.WriteRegister(name, view, buf)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		return starlark.Bool(ok), nil
	})
	builtindoc(writeRegisterBuiltinName, "(Name, Value, View=0)", "writes a register, returns False if it can not be written.")

	env.env[pcBuiltinName] = starlark.NewBuiltin(pcBuiltinName, func(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs); err != nil {
			return nil, err
		}
		return starlark.MakeUint64(env.ctx.PC()), nil
	})
	builtindoc(pcBuiltinName, "()", "returns the program counter of the current thread.")

	env.env[setPCBuiltinName] = starlark.NewBuiltin(setPCBuiltinName, func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var pc starlark.Int
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "pc", &pc); err != nil {
			return nil, err
		}
		v, ok := pc.Uint64()
		if !ok {
			return nil, decorateError(thread, fmt.Errorf("pc %s out of range", pc))
		}
		return starlark.Bool(env.ctx.SetPC(v)), nil
	})
	builtindoc(setPCBuiltinName, "(PC)", "changes the program counter of the current thread, returns True if it changed.")

	env.env[helpBuiltinName] = starlark.NewBuiltin(helpBuiltinName, func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		switch len(args) {
		case 0:
			fmt.Fprintln(env.out, "Available builtins:")
			bins := make([]string, 0, len(env.env))
			for name, value := range env.env {
				if _, ok := value.(*starlark.Builtin); ok {
					bins = append(bins, name)
				}
			}
			sort.Strings(bins)
			for _, bin := range bins {
				fmt.Fprintf(env.out, "\t%s\n", bin)
			}
		case 1:
			switch x := args[0].(type) {
			case *starlark.Builtin:
				if doc[x.Name()] != "" {
					fmt.Fprintf(env.out, "%s\n", doc[x.Name()])
				} else {
					fmt.Fprintf(env.out, "no help for builtin %s\n", x.Name())
				}
			case *starlark.Function:
				fmt.Fprintf(env.out, "user defined function %s\n", x.Name())
				if doc := x.Doc(); doc != "" {
					fmt.Fprintln(env.out, doc)
				}
			default:
				fmt.Fprintf(env.out, "no help for object of type %T\n", args[0])
			}
		default:
			fmt.Fprintln(env.out, "wrong number of arguments ", len(args))
		}
		return starlark.None, nil
	})
	builtindoc(helpBuiltinName, "(Object)", "prints help for Object.")

	return env
}

func toView(v starlark.Value) (guest.View, error) {
	switch v := v.(type) {
	case starlark.Int:
		n, ok := v.Int64()
		if ok && guest.View(n).Valid() {
			return guest.View(n), nil
		}
	case starlark.String:
		for _, view := range guest.Views {
			if view.String() == string(v) {
				return view, nil
			}
		}
	}
	return 0, fmt.Errorf("invalid view %s", v)
}

func bytesToValue(buf []byte) starlark.Value {
	if len(buf) > 8 {
		return starlark.String(hex.EncodeToString(buf))
	}
	var tmp [8]byte
	copy(tmp[:], buf)
	return starlark.MakeUint64(binary.LittleEndian.Uint64(tmp[:]))
}

func valueToBytes(v starlark.Value, size int) ([]byte, error) {
	buf := make([]byte, size)
	switch v := v.(type) {
	case starlark.Int:
		n, ok := v.Uint64()
		if !ok {
			if i, ok2 := v.Int64(); ok2 {
				n, ok = uint64(i), true
			}
		}
		if !ok || size > 8 {
			return nil, fmt.Errorf("integer %s can not be stored in a %d byte register", v, size)
		}
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], n)
		copy(buf, tmp[:])
		return buf, nil
	case starlark.String:
		b, err := hex.DecodeString(string(v))
		if err != nil {
			return nil, err
		}
		if len(b) != size {
			return nil, fmt.Errorf("%d bytes given for a %d byte register", len(b), size)
		}
		return b, nil
	}
	return nil, fmt.Errorf("can not convert %s to a register value", v.Type())
}

func (env *Env) printFunc() func(_ *starlark.Thread, msg string) {
	return func(_ *starlark.Thread, msg string) { fmt.Fprintln(env.out, msg) }
}

// Execute executes a script. Path is the name of the file to execute and
// source is the source code to execute.
// Source can be either a []byte, a string or a io.Reader. If source is nil
// Execute will execute the file specified by 'path'.
// After the file is executed if a function named mainFnName exists it will be called, passing args to it.
func (env *Env) Execute(path string, source interface{}, mainFnName string, args []starlark.Value) (_ starlark.Value, _err error) {
	defer func() {
		err := recover()
		if err == nil {
			return
		}
		_err = fmt.Errorf("panic executing starlark script: %v", err)
		fmt.Fprintf(env.out, "panic executing starlark script: %v\n", err)
		for i := 0; ; i++ {
			pc, file, line, ok := runtime.Caller(i)
			if !ok {
				break
			}
			fname := "<unknown>"
			fn := runtime.FuncForPC(pc)
			if fn != nil {
				fname = fn.Name()
			}
			fmt.Fprintf(env.out, "%s\n\tin %s:%d\n", fname, file, line)
		}
	}()

	thread := env.newThread()
	globals, err := starlark.ExecFile(thread, path, source, env.env)
	if err != nil {
		return starlark.None, err
	}

	err = env.exportGlobals(globals)
	if err != nil {
		return starlark.None, err
	}

	return env.callMain(thread, globals, mainFnName, args)
}

// exportGlobals saves globals with a name starting with a capital letter
// into the environment and creates commands from globals with a name
// starting with "command_"
func (env *Env) exportGlobals(globals starlark.StringDict) error {
	for name, val := range globals {
		switch {
		case strings.HasPrefix(name, commandPrefix):
			if err := env.createCommand(name, val); err != nil {
				return err
			}
		case name[0] >= 'A' && name[0] <= 'Z':
			env.env[name] = val
		}
	}
	return nil
}

// Cancel cancels the execution of a currently running script or function.
func (env *Env) Cancel() {
	if env == nil {
		return
	}
	env.contextMu.Lock()
	if env.cancelfn != nil {
		env.cancelfn()
		env.cancelfn = nil
	}
	if env.thread != nil {
		env.thread.Cancel("user interrupt")
	}
	env.contextMu.Unlock()
}

func (env *Env) newThread() *starlark.Thread {
	thread := &starlark.Thread{
		Print: env.printFunc(),
	}
	env.contextMu.Lock()
	var ctx context.Context
	ctx, env.cancelfn = context.WithCancel(context.Background())
	env.thread = thread
	env.contextMu.Unlock()
	thread.SetLocal(contextName, ctx)
	return thread
}

func (env *Env) createCommand(name string, val starlark.Value) error {
	fnval, ok := val.(*starlark.Function)
	if !ok {
		return nil
	}

	name = name[len(commandPrefix):]

	helpMsg := fnval.Doc()
	if helpMsg == "" {
		helpMsg = "user defined"
	}

	if fnval.NumParams() == 1 {
		if p0, _ := fnval.Param(0); p0 == "args" {
			env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
				_, err := starlark.Call(env.newThread(), fnval, starlark.Tuple{starlark.String(args)}, nil)
				return err
			})
			return nil
		}
	}

	env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
		thread := env.newThread()
		argval, err := starlark.Eval(thread, "<input>", "("+args+")", env.env)
		if err != nil {
			return err
		}
		argtuple, ok := argval.(starlark.Tuple)
		if !ok {
			argtuple = starlark.Tuple{argval}
		}
		_, err = starlark.Call(thread, fnval, argtuple, nil)
		return err
	})
	return nil
}

// callMain calls the main function in globals, if one was defined.
func (env *Env) callMain(thread *starlark.Thread, globals starlark.StringDict, mainFnName string, args []starlark.Value) (starlark.Value, error) {
	if mainFnName == "" {
		return starlark.None, nil
	}
	mainval := globals[mainFnName]
	if mainval == nil {
		return starlark.None, nil
	}
	mainfn, ok := mainval.(*starlark.Function)
	if !ok {
		return starlark.None, fmt.Errorf("%s is not a function", mainFnName)
	}
	if mainfn.NumParams() != len(args) {
		return starlark.None, fmt.Errorf("wrong number of arguments for %s", mainFnName)
	}
	return starlark.Call(thread, mainfn, starlark.Tuple(args), nil)
}

func isCancelled(thread *starlark.Thread) error {
	if ctx, ok := thread.Local(contextName).(context.Context); ok {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

func decorateError(thread *starlark.Thread, err error) error {
	if err == nil {
		return nil
	}
	pos := thread.CallFrame(1).Pos
	if pos.Col > 0 {
		return fmt.Errorf("%s:%d:%d: %v", pos.Filename(), pos.Line, pos.Col, err)
	}
	return fmt.Errorf("%s:%d: %v", pos.Filename(), pos.Line, err)
}
