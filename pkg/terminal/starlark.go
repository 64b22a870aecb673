package terminal

import (
	"github.com/vgstub/vgregs/pkg/proc/guest"
	"github.com/vgstub/vgregs/pkg/terminal/starbind"
)

type starlarkContext struct {
	term *Term
}

var _ starbind.Context = starlarkContext{}

func (ctx starlarkContext) RegisterCommand(name, helpMsg string, fn func(args string) error) {
	cmdfn := func(t *Term, args string) error {
		return fn(args)
	}

	found := false
	for i := range ctx.term.cmds.cmds {
		cmd := &ctx.term.cmds.cmds[i]
		for _, alias := range cmd.aliases {
			if alias == name {
				cmd.cmdFn = cmdfn
				cmd.helpMsg = helpMsg
				found = true
				break
			}
		}
		if found {
			break
		}
	}
	if !found {
		newcmd := command{
			aliases: []string{name},
			helpMsg: helpMsg,
			cmdFn:   cmdfn,
		}
		ctx.term.cmds.cmds = append(ctx.term.cmds.cmds, newcmd)
	}
}

func (ctx starlarkContext) CallCommand(cmdstr string) error {
	return ctx.term.cmds.Call(cmdstr, ctx.term)
}

func (ctx starlarkContext) ReadRegister(name string, view guest.View) ([]byte, bool, error) {
	n, err := ctx.term.regnum(name, view)
	if err != nil {
		return nil, false, err
	}
	buf := make([]byte, ctx.term.target.Engine.Size(n))
	ok := ctx.term.target.Engine.Read(ctx.term.tid, n, buf)
	return buf, ok, nil
}

func (ctx starlarkContext) WriteRegister(name string, view guest.View, val []byte) (bool, error) {
	n, err := ctx.term.regnum(name, view)
	if err != nil {
		return false, err
	}
	return ctx.term.writeRegister(n, val)
}

func (ctx starlarkContext) RegisterSize(name string) (int, error) {
	n, err := ctx.term.regnum(name, guest.Real)
	if err != nil {
		return 0, err
	}
	return ctx.term.target.Engine.Size(n), nil
}

func (ctx starlarkContext) PC() uint64 {
	return ctx.term.target.PC(ctx.term.tid)
}

func (ctx starlarkContext) SetPC(pc uint64) bool {
	return ctx.term.target.SetPC(ctx.term.tid, pc)
}
