package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/shlex"

	"l6470/core"
	"l6470/protocol"
)

var errQuit = errors.New("quit")

// Shell runs l6470ctl commands against one device
type Shell struct {
	dev     *core.Device
	out     io.Writer
	profile []core.Setting

	// Poll interval for watch; tests shorten it
	interval time.Duration
}

// NewShell returns a shell writing to out. profile is what "apply" writes.
func NewShell(dev *core.Device, out io.Writer, profile []core.Setting) *Shell {
	return &Shell{
		dev:      dev,
		out:      out,
		profile:  profile,
		interval: 100 * time.Millisecond,
	}
}

// Run reads commands until quit or EOF
func (s *Shell) Run(rl *readline.Instance) error {
	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				return nil
			}
			return err
		}

		if err := s.ExecLine(line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
}

// ExecLine tokenizes and runs one line
func (s *Shell) ExecLine(line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse %q: %w", line, err)
	}
	if len(args) == 0 {
		return nil
	}
	return s.Exec(args)
}

// Exec runs one command
func (s *Shell) Exec(args []string) error {
	cmd, args := strings.ToLower(args[0]), args[1:]
	switch cmd {
	case "help", "?":
		s.printHelp()
		return nil
	case "quit", "exit", "q":
		return errQuit
	case "regs":
		return s.cmdRegs()
	case "status", "st":
		return s.cmdStatus()
	case "get":
		return s.cmdGet(args)
	case "set":
		return s.cmdSet(args)
	case "raw":
		return s.cmdRaw(args)
	case "run":
		return s.cmdRun(args)
	case "move", "goto", "gotodir", "gountil", "releasesw", "stepclock":
		return s.cmdUnsupported(cmd)
	case "home":
		return s.dev.GoHome()
	case "mark":
		return s.dev.GoMark()
	case "resetpos":
		return s.dev.ResetPos()
	case "reset":
		return s.dev.ResetDevice()
	case "softstop", "stop":
		return s.dev.SoftStop()
	case "hardstop":
		return s.dev.HardStop()
	case "softhiz":
		return s.dev.SoftHiZ()
	case "hardhiz":
		return s.dev.HardHiZ()
	case "watch":
		return s.cmdWatch(args)
	case "apply":
		return s.cmdApply()
	}
	return fmt.Errorf("unknown command %q (type 'help' for commands)", cmd)
}

func (s *Shell) printHelp() {
	fmt.Fprint(s.out, `
L6470 Commands:
  Registers:
    regs                   - List the register catalog
    get <reg>              - Read a register
    set <reg> <value>      - Write a register from a number (0x.. accepted)
    set <reg> <b0> <b1>..  - Write a register byte by byte
    apply                  - Write the configured profile
    raw <opcode> [b..]     - Send raw bytes, print the response

  Status:
    status                 - Read and decode STATUS (clears latched flags)
    watch [n] [interval]   - Poll status n times, print changes

  Motion:
    run <cw|ccw> <speed>   - Run at constant speed (20-bit SPEED units)
    home | mark            - Go to ABS_POS zero or to MARK
    resetpos | reset       - Zero ABS_POS, or reset the chip
    softstop | hardstop    - Decelerate, or stop immediately
    softhiz | hardhiz      - Release the bridges

  quit                     - Exit
`)
}

func (s *Shell) cmdRegs() error {
	w := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDR\tBYTES\tMASK\tWRITE")
	for _, r := range protocol.Registers {
		fmt.Fprintf(w, "%s\t0x%02X\t%d\t% X\t%s\n", r.Name, r.Address, r.Width(), r.Mask(), r.WriteTiming)
	}
	return w.Flush()
}

func (s *Shell) cmdStatus() error {
	st, err := s.dev.UpdateStatus()
	if err != nil {
		return err
	}
	s.printStatus(st)
	return nil
}

func (s *Shell) printStatus(st protocol.StatusFields) {
	w := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	for _, f := range st.Fields() {
		fmt.Fprintf(w, "  %s\t%s\n", f[0], f[1])
	}
	fmt.Fprintf(w, "  motor\t%s\n", st.MotStatus)
	w.Flush()
}

func (s *Shell) cmdGet(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: get <reg>")
	}
	reg, err := protocol.LookupRegister(args[0])
	if err != nil {
		return err
	}
	b, err := s.dev.GetParam(reg)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s = [% X] (0x%X)\n", reg.Name, b, protocol.UnpackValue(b))
	return nil
}

func (s *Shell) cmdSet(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: set <reg> <value> | set <reg> <b0> <b1>..")
	}
	reg, err := protocol.LookupRegister(args[0])
	if err != nil {
		return err
	}

	var values []byte
	if len(args) == 2 && reg.Width() > 1 {
		v, err := parseUint(args[1], 32)
		if err != nil {
			return err
		}
		if values, err = protocol.PackValue(reg, uint32(v)); err != nil {
			return err
		}
	} else {
		if values, err = parseBytes(args[1:]); err != nil {
			return err
		}
	}

	if !reg.Writable() {
		fmt.Fprintf(s.out, "warning: %s is read-only, the chip will flag NOTPERF_CMD\n", reg.Name)
	}
	if err := s.dev.SetParam(reg, values); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s <- [% X]\n", reg.Name, values)
	return nil
}

func (s *Shell) cmdRaw(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: raw <opcode> [bytes..]")
	}
	b, err := parseBytes(args)
	if err != nil {
		return err
	}
	rx, err := s.dev.Transfer(b[0], b[1:])
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "[% X]\n", rx)
	return nil
}

func (s *Shell) cmdRun(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: run <cw|ccw> <speed>")
	}
	dir, err := protocol.ParseDirection(args[0])
	if err != nil {
		return err
	}
	v, err := parseUint(args[1], 32)
	if err != nil {
		return err
	}
	speed, err := protocol.PackArgument(protocol.RUN, uint32(v))
	if err != nil {
		return err
	}
	return s.dev.Run(dir, speed)
}

func (s *Shell) cmdUnsupported(cmd string) error {
	switch cmd {
	case "move":
		return s.dev.Move(protocol.Clockwise, nil)
	case "goto":
		return s.dev.GoTo(nil)
	case "gotodir":
		return s.dev.GoToDir(protocol.Clockwise, nil)
	case "gountil":
		return s.dev.GoUntil(false, protocol.Clockwise, nil)
	case "releasesw":
		return s.dev.ReleaseSW(false, protocol.Clockwise)
	default:
		return s.dev.StepClock(protocol.Clockwise)
	}
}

// cmdWatch polls status and prints the flags that changed
func (s *Shell) cmdWatch(args []string) error {
	n, interval := 10, s.interval
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			return fmt.Errorf("invalid count %q", args[0])
		}
		n = v
	}
	if len(args) > 1 {
		d, err := time.ParseDuration(args[1])
		if err != nil {
			return err
		}
		interval = d
	}

	var prev [][2]string
	for i := 0; i < n; i++ {
		if i > 0 {
			time.Sleep(interval)
		}
		st, err := s.dev.UpdateStatus()
		if err != nil {
			return err
		}
		cur := st.Fields()
		if prev == nil {
			fmt.Fprintln(s.out, st)
		} else {
			for j := range cur {
				if cur[j][1] != prev[j][1] {
					fmt.Fprintf(s.out, "%s: %s -> %s\n", cur[j][0], prev[j][1], cur[j][1])
				}
			}
		}
		prev = cur
	}
	return nil
}

func (s *Shell) cmdApply() error {
	if len(s.profile) == 0 {
		fmt.Fprintln(s.out, "no profile configured")
		return nil
	}
	if err := s.dev.Apply(s.profile); err != nil {
		return err
	}
	for _, st := range s.profile {
		fmt.Fprintln(s.out, st)
	}
	return nil
}

func parseUint(s string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return v, nil
}

func parseBytes(args []string) ([]byte, error) {
	b := make([]byte, len(args))
	for i, a := range args {
		v, err := parseUint(a, 8)
		if err != nil {
			return nil, err
		}
		b[i] = byte(v)
	}
	return b, nil
}

// completer offers command and register names
func completer() *readline.PrefixCompleter {
	regs := make([]readline.PrefixCompleterInterface, 0, len(protocol.Registers))
	for _, r := range protocol.Registers {
		regs = append(regs, readline.PcItem(r.Name))
	}
	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("regs"),
		readline.PcItem("status"),
		readline.PcItem("get", regs...),
		readline.PcItem("set", regs...),
		readline.PcItem("raw"),
		readline.PcItem("run", readline.PcItem("cw"), readline.PcItem("ccw")),
		readline.PcItem("home"),
		readline.PcItem("mark"),
		readline.PcItem("resetpos"),
		readline.PcItem("reset"),
		readline.PcItem("softstop"),
		readline.PcItem("hardstop"),
		readline.PcItem("softhiz"),
		readline.PcItem("hardhiz"),
		readline.PcItem("watch"),
		readline.PcItem("apply"),
		readline.PcItem("quit"),
	)
}
