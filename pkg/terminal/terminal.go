package terminal

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-delve/liner"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/vgstub/vgregs/pkg/config"
	"github.com/vgstub/vgregs/pkg/logflags"
	"github.com/vgstub/vgregs/pkg/proc/guest"
	"github.com/vgstub/vgregs/pkg/proc/target"
	"github.com/vgstub/vgregs/pkg/terminal/starbind"
)

const (
	historyFile                 string = ".vgregs_history"
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiRed    = 31
	ansiGreen  = 32
	ansiYellow = 33
	ansiBlue   = 34
)

// Term represents the register shell.
type Term struct {
	target   *target.Target
	threads  *guest.Threads
	tid      guest.ThreadID
	conf     *config.Config
	confPath string
	prompt   string
	line     *liner.State
	cmds     *Commands
	dumb     bool
	stdout   io.Writer

	starlarkEnv *starbind.Env
}

// New returns a new Term operating on the registers of tgt, whose guest
// state is held by threads.
func New(tgt *target.Target, threads *guest.Threads, conf *config.Config) *Term {
	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb" || !isatty.IsTerminal(os.Stdout.Fd())
	var w io.Writer = os.Stdout
	if !dumb {
		w = colorable.NewColorableStdout()
	}
	return newTerm(tgt, threads, conf, w, dumb)
}

// NewBatch returns a Term that writes uncoloured output to w and is only
// driven through Exec.
func NewBatch(tgt *target.Target, threads *guest.Threads, conf *config.Config, w io.Writer) *Term {
	return newTerm(tgt, threads, conf, w, true)
}

func newTerm(tgt *target.Target, threads *guest.Threads, conf *config.Config, w io.Writer, dumb bool) *Term {
	if conf == nil {
		conf = &config.Config{}
	}
	cmds := RegisterCommands()
	if conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}
	t := &Term{
		target:  tgt,
		threads: threads,
		conf:    conf,
		prompt:  "(vgregs) ",
		cmds:    cmds,
		dumb:    dumb,
		stdout:  w,
	}
	if ids := threads.IDs(); len(ids) > 0 {
		t.tid = ids[0]
	}
	t.starlarkEnv = starbind.New(starlarkContext{t}, w)
	return t
}

// SetConfigFile sets the path the configuration is saved to.
func (t *Term) SetConfigFile(path string) {
	t.confPath = path
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	if t.line != nil {
		t.line.Close()
	}
}

// complete offers command names for the first word of line and register
// names for the following ones.
func (t *Term) complete(line string) (c []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 || (len(fields) == 1 && !strings.HasSuffix(line, " ")) {
		for _, cmd := range t.cmds.cmds {
			for _, alias := range cmd.aliases {
				if strings.HasPrefix(alias, strings.ToLower(line)) {
					c = append(c, alias)
				}
			}
		}
		return c
	}
	prefix, last := line, ""
	if !strings.HasSuffix(line, " ") {
		last = fields[len(fields)-1]
		prefix = line[:len(line)-len(last)]
	}
	for _, name := range t.target.Features.Catalog.Complete(last, t.target.Features.Live) {
		c = append(c, prefix+name)
	}
	return c
}

// Run begins running the shell in the terminal.
func (t *Term) Run() (int, error) {
	t.line = liner.NewLiner()
	defer t.Close()

	t.line.SetCompleter(t.complete)

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}
	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("prompt for input failed: %w", err)
		}

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			logflags.TerminalLogger().Debugf("command %q failed: %v", cmdstr, err)
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
	}
}

// Exec runs a single shell command against the current thread.
func (t *Term) Exec(cmdstr string) error {
	return t.cmds.Call(cmdstr, t)
}

// SetThread makes tid the current thread.
func (t *Term) SetThread(tid guest.ThreadID) error {
	if _, ok := t.threads.Thread(tid); !ok {
		return fmt.Errorf("unknown thread %d", tid)
	}
	t.tid = tid
	return nil
}

// Println prints a line to the terminal, highlighting prefix.
func (t *Term) Println(prefix, str string) {
	fmt.Fprintf(t.stdout, "%s%s\n", t.highlight(ansiBlue, prefix), str)
}

func (t *Term) highlight(color int, s string) string {
	if t.dumb {
		return s
	}
	return fmt.Sprintf(terminalHighlightEscapeCode, color) + s + terminalResetEscapeCode
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
		return 0, nil
	}
	if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR, 0666); err == nil {
		_, err = t.line.WriteHistory(f)
		if err != nil {
			fmt.Println("readline history error:", err)
		}
		f.Close()
	}
	return 0, nil
}

// regnum returns the protocol number of the register called name in view.
func (t *Term) regnum(name string, view guest.View) (int, error) {
	cfg := t.target.Features
	if int(view) >= cfg.Views || !view.Valid() {
		return -1, fmt.Errorf("view %s not exposed", view)
	}
	n, err := cfg.Catalog.Lookup(name, cfg.Live)
	if err != nil {
		return -1, err
	}
	return int(view)*cfg.Live + n, nil
}

// writeRegister writes register n of the current thread, dropping the
// cached register blobs of the thread when the engine accepted the value.
func (t *Term) writeRegister(n int, buf []byte) (bool, error) {
	if size := t.target.Engine.Size(n); size != len(buf) {
		return false, fmt.Errorf("%d bytes given for a %d byte register", len(buf), size)
	}
	ok := t.target.Engine.Write(t.tid, n, buf)
	if ok {
		t.target.Cache.Invalidate(t.tid)
	}
	return ok, nil
}
