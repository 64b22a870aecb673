// Package terminal implements functions for responding to user
// input and dispatching to the register transfer layer.
package terminal

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"
	"golang.org/x/arch/x86/x86asm"

	"github.com/vgstub/vgregs/pkg/proc/guest"
	"github.com/vgstub/vgregs/pkg/proc/x87"
	"github.com/vgstub/vgregs/pkg/regdef"
)

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands of the register shell.
type Commands struct {
	cmds []command
}

// ExitRequestError is returned by the exit command to stop the shell.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

// RegisterCommands returns a Commands struct with default commands defined.
func RegisterCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"regs"}, group: registerCmds, cmdFn: regs, helpMsg: `Print contents of CPU registers.

	regs [view]

Prints every register of the current thread in the given view (real,
shadow1 or shadow2, real by default). Registers the engine does not
provide are marked unavailable.`},
		{aliases: []string{"read", "r"}, group: registerCmds, cmdFn: readCmd, helpMsg: `Print one register.

	read <name> [view]

Partial general purpose registers (eax, ax, al, ah, ...) can be read in the
real view.`},
		{aliases: []string{"write", "w"}, group: registerCmds, cmdFn: writeCmd, helpMsg: `Change one register.

	write <name> <value> [view]

Integer registers take a number. x87 data registers take a floating point
number or a hex image of the 80-bit value. Vector registers take a hex
number, most significant byte first.`},
		{aliases: []string{"copyregs"}, group: registerCmds, cmdFn: copyRegs, helpMsg: `Copy every register of one view into another.

	copyregs <from> <to>

Registers the engine does not provide in the source view, or does not accept
in the destination view, are left alone.`},
		{aliases: []string{"tls"}, group: registerCmds, cmdFn: tlsCmd, helpMsg: `Print the address of the thread local storage vector of the current thread.`},
		{aliases: []string{"pc"}, group: registerCmds, cmdFn: pcCmd, helpMsg: `Print the program counter of the current thread.`},
		{aliases: []string{"setpc"}, group: registerCmds, cmdFn: setPCCmd, helpMsg: `Change the program counter of the current thread.

	setpc <address>`},
		{aliases: []string{"threads"}, group: threadCmds, cmdFn: threads, helpMsg: `Print out info for every thread.`},
		{aliases: []string{"thread", "tr"}, group: threadCmds, cmdFn: thread, helpMsg: `Switch to the specified thread.

	thread <id>`},
		{aliases: []string{"save"}, cmdFn: saveCmd, helpMsg: `Write the guest state of every thread to a file.

	save <path>

The file can be loaded again with "vgregs shell --state <path>".`},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save [path]

Saves the configuration file to disk, overwriting the current configuration file.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias to <command> or removes an alias.`},
		{aliases: []string{"info"}, cmdFn: info, helpMsg: `Print the register configuration of the target.`},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of shell commands.

	source <path>

If path ends with the .star extension it will be interpreted as a starlark script.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit the shell.`},
	}

	return c
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

var errNoCmd = errors.New("command not available")

func noCmdAvailable(t *Term, args string) error {
	return errNoCmd
}

func nullCommand(t *Term, args string) error {
	return nil
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return errNoCmd
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// splitArgs splits the arguments of a command the way a shell would.
func splitArgs(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal command line '%s'", args)
	}
	return v[0], nil
}

func parseView(s string) (guest.View, error) {
	for _, view := range guest.Views {
		if s == view.String() || s == strconv.Itoa(int(view)) {
			return view, nil
		}
	}
	return 0, fmt.Errorf("unknown view %q", s)
}

// optionalView parses the trailing view argument of a command.
func optionalView(args []string, n int) (guest.View, error) {
	switch len(args) {
	case n:
		return guest.Real, nil
	case n + 1:
		return parseView(args[n])
	}
	return 0, fmt.Errorf("wrong number of arguments")
}

func regs(t *Term, args string) error {
	fields, err := splitArgs(args)
	if err != nil {
		return err
	}
	view, err := optionalView(fields, 0)
	if err != nil {
		return err
	}
	b, err := t.target.Cache.Fetch(t.tid, view)
	if err != nil {
		return err
	}
	catalog := t.target.Features.Catalog
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)
	for i, reg := range catalog.Registers(t.target.Features.Live) {
		value := t.highlight(ansiRed, "unavailable")
		if b.Valid[i] {
			value = formatRegister(reg, b.Register(catalog, i))
		}
		fmt.Fprintf(w, "%s\t%s\n", t.highlight(ansiGreen, reg.Name), value)
	}
	return w.Flush()
}

func readCmd(t *Term, args string) error {
	fields, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(fields) < 1 {
		return fmt.Errorf("wrong number of arguments: read <name> [view]")
	}
	view, err := optionalView(fields, 1)
	if err != nil {
		return err
	}
	n, err := t.regnum(fields[0], view)
	if err != nil {
		r, ok := subRegister(fields[0])
		if !ok || view != guest.Real || !errors.Is(err, regdef.ErrUnknownRegister) {
			return err
		}
		v, err := t.target.Engine.Get(t.tid, r)
		if err != nil {
			return err
		}
		t.Println(strings.ToLower(fields[0])+" ", fmt.Sprintf("%#x", v))
		return nil
	}
	_, reg := t.target.Engine.Locate(n)
	buf := make([]byte, reg.Size())
	if !t.target.Engine.Read(t.tid, n, buf) {
		t.Println(reg.Name+" ", t.highlight(ansiRed, "unavailable"))
		return nil
	}
	t.Println(reg.Name+" ", formatRegister(reg, buf))
	return nil
}

func writeCmd(t *Term, args string) error {
	fields, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(fields) < 2 {
		return fmt.Errorf("wrong number of arguments: write <name> <value> [view]")
	}
	view, err := optionalView(fields, 2)
	if err != nil {
		return err
	}
	n, err := t.regnum(fields[0], view)
	if err != nil {
		return err
	}
	_, reg := t.target.Engine.Locate(n)
	buf, err := parseRegister(reg, fields[1])
	if err != nil {
		return err
	}
	ok, err := t.writeRegister(n, buf)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("register %s can not be written", reg.Name)
	}
	return nil
}

func copyRegs(t *Term, args string) error {
	fields, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(fields) != 2 {
		return fmt.Errorf("wrong number of arguments: copyregs <from> <to>")
	}
	from, err := parseView(fields[0])
	if err != nil {
		return err
	}
	to, err := parseView(fields[1])
	if err != nil {
		return err
	}
	b, err := t.target.Cache.Fetch(t.tid, from)
	if err != nil {
		return err
	}
	b.View = to
	written, err := t.target.Cache.Store(t.tid, b)
	if err != nil {
		return err
	}
	n := 0
	for _, ok := range written {
		if ok {
			n++
		}
	}
	fmt.Fprintf(t.stdout, "%d of %d registers copied from %s to %s\n", n, len(written), from, to)
	return nil
}

func tlsCmd(t *Term, args string) error {
	addr, err := t.target.TLSVectorAddr(t.tid)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "%#x\n", addr)
	return nil
}

func saveCmd(t *Term, args string) error {
	if args == "" {
		return fmt.Errorf("wrong number of arguments: save <path>")
	}
	fh, err := os.Create(args)
	if err != nil {
		return err
	}
	if err := guest.WriteSnapshot(fh, t.threads); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}

func pcCmd(t *Term, args string) error {
	fmt.Fprintf(t.stdout, "%#x\n", t.target.PC(t.tid))
	return nil
}

func setPCCmd(t *Term, args string) error {
	pc, err := strconv.ParseUint(strings.TrimSpace(args), 0, 64)
	if err != nil {
		return fmt.Errorf("could not parse address %q: %w", args, err)
	}
	if t.target.SetPC(t.tid, pc) {
		fmt.Fprintf(t.stdout, "pc set to %#x\n", pc)
	} else {
		fmt.Fprintf(t.stdout, "pc already at %#x\n", pc)
	}
	return nil
}

func threads(t *Term, args string) error {
	for _, tid := range t.threads.IDs() {
		prefix := "  "
		if tid == t.tid {
			prefix = t.highlight(ansiYellow, "*") + " "
		}
		fmt.Fprintf(t.stdout, "%sThread %d at %#x\n", prefix, tid, t.target.PC(tid))
	}
	return nil
}

func thread(t *Term, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("you must specify a thread")
	}
	tid, err := strconv.Atoi(args)
	if err != nil {
		return err
	}
	old := t.tid
	if err := t.SetThread(guest.ThreadID(tid)); err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Switched from %d to %d\n", old, t.tid)
	return nil
}

func info(t *Term, args string) error {
	tgt := t.target
	cfg := tgt.Features
	fmt.Fprintf(t.stdout, "arch:       %s (%s)\n", cfg.Catalog.Arch(), tgt.OS)
	fmt.Fprintf(t.stdout, "vector:     %s\n", cfg.Tiers)
	fmt.Fprintf(t.stdout, "registers:  %d of %d, %d views, %d total\n", cfg.Live, cfg.Catalog.Len(), cfg.Views, cfg.NumRegs())
	if name, ok := tgt.Descriptor(); ok {
		fmt.Fprintf(t.stdout, "descriptor: %s\n", name)
	} else {
		fmt.Fprintf(t.stdout, "descriptor: none\n")
	}
	fmt.Fprintf(t.stdout, "expedited:  %s\n", strings.Join(tgt.ExpeditedRegisters(), " "))
	return nil
}

func (c *Commands) sourceCommand(t *Term, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}

	if filepath.Ext(args) == ".star" {
		_, err := t.starlarkEnv.Execute(args, nil, "main", nil)
		return err
	}

	return c.executeFile(t, args)
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}

// subRegister returns the partial general purpose register called name.
// Partial registers have no protocol number and can only be read.
func subRegister(name string) (x86asm.Reg, bool) {
	for r := x86asm.AL; r <= x86asm.RIP; r++ {
		if strings.EqualFold(r.String(), name) {
			return r, true
		}
	}
	return 0, false
}

func isFloat80(reg regdef.Register) bool {
	return reg.Size() == x87.Size && strings.HasPrefix(reg.Name, "st")
}

// bigEndianHex formats a little endian value as a hex number.
func bigEndianHex(buf []byte) string {
	r := make([]byte, len(buf))
	for i := range buf {
		r[len(buf)-1-i] = buf[i]
	}
	return "0x" + hex.EncodeToString(r)
}

func formatRegister(reg regdef.Register, buf []byte) string {
	switch {
	case isFloat80(reg):
		return fmt.Sprintf("%s\t%g", bigEndianHex(buf), x87.Decode(buf).Float64())
	case len(buf) <= 8:
		var tmp [8]byte
		copy(tmp[:], buf)
		return fmt.Sprintf("0x%0*x", 2*len(buf), binary.LittleEndian.Uint64(tmp[:]))
	}
	return bigEndianHex(buf)
}

func parseRegister(reg regdef.Register, s string) ([]byte, error) {
	buf := make([]byte, reg.Size())
	if isFloat80(reg) && !strings.HasPrefix(s, "0x") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("could not parse %q as a floating point number: %w", s, err)
		}
		b := x87.FromFloat64(f).Bytes()
		return b[:], nil
	}
	if reg.Size() <= 8 {
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("could not parse %q: %w", s, err)
		}
		if reg.Size() < 8 && v>>(8*uint(reg.Size())) != 0 {
			return nil, fmt.Errorf("value %#x does not fit in %s", v, reg.Name)
		}
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], v)
		copy(buf, tmp[:])
		return buf, nil
	}
	digits := strings.TrimPrefix(s, "0x")
	if len(digits) > 2*len(buf) {
		return nil, fmt.Errorf("value %s does not fit in %s", s, reg.Name)
	}
	if len(digits)%2 != 0 {
		digits = "0" + digits
	}
	b, err := hex.DecodeString(digits)
	if err != nil {
		return nil, fmt.Errorf("could not parse %q: %w", s, err)
	}
	for i := range b {
		buf[i] = b[len(b)-1-i]
	}
	return buf, nil
}
