// Command ptsim simulates single-level page-table memory management over a
// small physical memory. It executes a stream of commands that create and
// destroy processes, store and load bytes through virtual addresses, and
// print the memory state.
package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sarchlab/ptsim/datarecording"
	"github.com/sarchlab/ptsim/monitoring"
	"github.com/sarchlab/ptsim/trace"
	"github.com/sarchlab/ptsim/vm"
	"github.com/sarchlab/ptsim/vm/mmu"
)

var (
	traceDBFlag     string
	monitorPortFlag int
)

// rootCmd represents the base command. The positional arguments form the
// command stream.
var rootCmd = &cobra.Command{
	Use:   "ptsim command [command ...]",
	Short: "ptsim simulates single-level page-table memory management.",
	Long: `ptsim simulates single-level page-table memory management over ` +
		`64 pages of 256 bytes. The positional arguments form a command ` +
		`stream:

  np <pid> <pages>        create a process with the given number of pages
  kp <pid>                kill a process, reclaiming its pages
  sb <pid> <vaddr> <val>  store a byte at a virtual address
  lb <pid> <vaddr>        load a byte from a virtual address
  pfm                     print the free page map
  ppt <pid>               print the page table of a process

For example: ptsim np 1 3 sb 1 0 99 lb 1 0 pfm ppt 1`,
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runCommandStream,
}

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVar(&traceDBFlag, "trace-db", "",
		"record memory accesses into the named SQLite database")
	rootCmd.Flags().IntVar(&monitorPortFlag, "monitor-port", 0,
		"serve the inspection API on this port, 0 disables the server")
}

func buildMMU() (*mmu.Comp, func()) {
	m := mmu.MakeBuilder().Build("MMU")

	m.AcceptTracer(trace.NewLogTracer(log.New(os.Stdout, "", 0)))

	cleanup := func() {}
	if traceDBFlag != "" {
		recorder := datarecording.New(traceDBFlag)
		m.AcceptTracer(trace.NewDBTracer(recorder))
		cleanup = recorder.Close
	}

	port := monitorPortFlag
	if port == 0 {
		if env := os.Getenv("PTSIM_MONITOR_PORT"); env != "" {
			p, err := strconv.Atoi(env)
			if err == nil {
				port = p
			}
		}
	}

	if port != 0 {
		monitor := monitoring.NewMonitor().WithPortNumber(port)
		monitor.RegisterMMU(m)
		monitor.StartServer()
	}

	return m, cleanup
}

func runCommandStream(_ *cobra.Command, args []string) error {
	m, cleanup := buildMMU()
	defer cleanup()

	for i := 0; i < len(args); i++ {
		var err error

		switch args[i] {
		case "np":
			err = runNewProcess(m, args, &i)
		case "kp":
			err = runKillProcess(m, args, &i)
		case "sb":
			err = runStoreByte(m, args, &i)
		case "lb":
			err = runLoadByte(m, args, &i)
		case "pfm":
			printPageFreeMap(m)
		case "ppt":
			err = runPrintPageTable(m, args, &i)
		default:
			err = fmt.Errorf("unknown command %q", args[i])
		}

		if err != nil {
			return err
		}
	}

	return nil
}

func nextArg(args []string, i *int) (uint64, error) {
	*i++
	if *i >= len(args) {
		return 0, fmt.Errorf("command %q: missing argument", args[*i-1])
	}

	n, err := strconv.ParseUint(args[*i], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("argument %q is not a number", args[*i])
	}

	return n, nil
}

func runNewProcess(m *mmu.Comp, args []string, i *int) error {
	pid, err := nextArg(args, i)
	if err != nil {
		return err
	}

	pages, err := nextArg(args, i)
	if err != nil {
		return err
	}

	err = m.CreateProcess(vm.PID(pid), pages)
	if errors.Is(err, mmu.ErrInsufficientMemory) {
		fmt.Printf("Could not allocate space for process #%d\n", pid)
		return nil
	}

	return err
}

func runKillProcess(m *mmu.Comp, args []string, i *int) error {
	pid, err := nextArg(args, i)
	if err != nil {
		return err
	}

	return m.DestroyProcess(vm.PID(pid))
}

func runStoreByte(m *mmu.Comp, args []string, i *int) error {
	pid, err := nextArg(args, i)
	if err != nil {
		return err
	}

	vAddr, err := nextArg(args, i)
	if err != nil {
		return err
	}

	value, err := nextArg(args, i)
	if err != nil {
		return err
	}

	return m.Store(vm.PID(pid), vAddr, byte(value))
}

func runLoadByte(m *mmu.Comp, args []string, i *int) error {
	pid, err := nextArg(args, i)
	if err != nil {
		return err
	}

	vAddr, err := nextArg(args, i)
	if err != nil {
		return err
	}

	_, err = m.Load(vm.PID(pid), vAddr)

	return err
}

func printPageFreeMap(m *mmu.Comp) {
	fmt.Println("--- PAGE FREE MAP ---")

	for i, used := range m.FreeMap() {
		if used {
			fmt.Print("#")
		} else {
			fmt.Print(".")
		}

		if (i+1)%16 == 0 {
			fmt.Println()
		}
	}
}

func runPrintPageTable(m *mmu.Comp, args []string, i *int) error {
	pid, err := nextArg(args, i)
	if err != nil {
		return err
	}

	entries, err := m.PageTableOf(vm.PID(pid))
	if err != nil {
		return err
	}

	fmt.Printf("--- PROCESS %d PAGE TABLE ---\n", pid)

	vPages := make([]uint64, 0, len(entries))
	for vPage := range entries {
		vPages = append(vPages, vPage)
	}
	sort.Slice(vPages, func(a, b int) bool { return vPages[a] < vPages[b] })

	for _, vPage := range vPages {
		fmt.Printf("%02x -> %02x\n", vPage, entries[vPage])
	}

	return nil
}
