// The console drives queues from text commands, one per line: create queues, push values, run the algorithms and
// check their outcome. A session works on a chain of queues with one current queue; most commands act on the
// current queue and `merge` acts on the whole chain.
//
// After every command that touches a queue, the console verifies its ring and reports violations as failures.

package harness

import (
	"bufio"
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nobletooth/ringq/pkg/queue"
	"github.com/nobletooth/ringq/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	failPercent = flag.Int("fail_percent", 0, "Percentage of element allocations the harness fails on purpose.")
	compareName = flag.String("compare", "lex", "Value order used by harness queues: lex/natural.")
	copyLength  = flag.Int("copy_length", 1024, "Size of the buffer removed values are copied into.")
	echo        = flag.Bool("echo", false, "Echo every command before running it.")

	commandsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ringq_harness_commands_total",
		Help: "Total number of harness commands by outcome.",
	}, []string{"command", "status" /* ok | failed */})
)

// errNoQueue is returned by commands needing a current queue when there is none.
var errNoQueue = errors.New("no current queue, run 'new' first")

// command describes a console command.
type command struct {
	usage    string
	minArgs  int
	maxArgs  int
	mutating bool // Verify queues after running it.
	run      func(c *Console, args []string) error
}

// commands is filled in init to allow the help command to list the table.
var commands map[string]command

// Console executes harness commands. Not thread-safe.
type Console struct {
	out        io.Writer
	alloc      *TrackingAllocator
	chain      queue.Chain
	current    *queue.Queue
	compare    utils.CompareFn[string]
	compareKey string
	copyLength int
	echo       bool
	failures   int
}

// NewConsole creates a console writing its results to `out`, configured from flags.
func NewConsole(out io.Writer) (*Console, error) {
	compare, err := queue.CompareByName(*compareName)
	if err != nil {
		return nil, fmt.Errorf("invalid --compare value: %w", err)
	}
	if *copyLength < 0 {
		return nil, fmt.Errorf("expected a non-negative --copy_length, got %d", *copyLength)
	}
	return &Console{
		out:        out,
		alloc:      NewTrackingAllocator(*failPercent, uint64(time.Now().UnixNano())),
		compare:    compare,
		compareKey: *compareName,
		copyLength: *copyLength,
		echo:       *echo,
	}, nil
}

// printf writes a line of command output.
func (c *Console) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format+"\n", args...)
}

// Failures returns the number of failed commands so far.
func (c *Console) Failures() int {
	return c.failures
}

// Execute runs a single command line. It returns true when the session should end.
func (c *Console) Execute(line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return false
	}
	if c.echo {
		c.printf("cmd> %s", line)
	}
	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]
	if name == "quit" {
		return true
	}

	err := c.dispatch(name, args)
	status := "ok"
	if err != nil {
		status = "failed"
		c.failures++
		c.printf("ERROR: %v", err)
		slog.Debug("Harness command failed.", "command", name, "error", err)
	}
	if _, known := commands[name]; known {
		commandsMetric.WithLabelValues(name, status).Inc()
	}
	return false
}

// dispatch validates the arguments of a command, runs it and verifies the queues it may have touched.
func (c *Console) dispatch(name string, args []string) error {
	cmd, found := commands[name]
	if !found {
		return fmt.Errorf("unknown command '%s'", name)
	}
	if len(args) < cmd.minArgs || (cmd.maxArgs >= 0 && len(args) > cmd.maxArgs) {
		return fmt.Errorf("usage: %s", cmd.usage)
	}
	runErr := cmd.run(c, args)
	if !cmd.mutating {
		return runErr
	}
	return errors.Join(runErr, c.verify())
}

// verify checks the ring of every chained queue.
func (c *Console) verify() error {
	for idx, q := range c.chain.Queues() {
		if _, err := q.Verify(); err != nil {
			utils.RaiseInvariant("harness", "broken_ring", "A queue ring is corrupted.", "queue", idx, "error", err)
			return fmt.Errorf("queue %d: %w", idx, err)
		}
	}
	return nil
}

// Run executes commands read from `in` until it is exhausted or a quit command is read, then frees every queue.
// Returns an error when any command failed or elements leaked.
func (c *Console) Run(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if c.Execute(scanner.Text()) {
			break
		}
	}
	scanErr := scanner.Err()
	if scanErr != nil {
		scanErr = fmt.Errorf("failed to read commands: %w", scanErr)
	}
	var failuresErr error
	if c.failures > 0 {
		failuresErr = fmt.Errorf("%d commands failed", c.failures)
	}
	return errors.Join(scanErr, failuresErr, c.Close())
}

// Close frees every chained queue and reports elements that were never released.
func (c *Console) Close() error {
	for _, q := range c.chain.Queues() {
		q.Free()
		c.chain.Remove(q)
	}
	c.current = nil
	if live := c.alloc.Live(); live > 0 {
		return fmt.Errorf("%d elements are still allocated", live)
	}
	return nil
}

// requireQueue returns the current queue or errNoQueue.
func (c *Console) requireQueue() (*queue.Queue, error) {
	if c.current == nil {
		return nil, errNoQueue
	}
	return c.current, nil
}

// show prints the current queue.
func (c *Console) show() {
	if c.current == nil {
		c.printf("q = NULL")
		return
	}
	c.printf("q = [%s]", strings.Join(c.current.Values(), " "))
}

// parseCount parses an optional repetition count argument.
func parseCount(args []string, idx int) (int, error) {
	if len(args) <= idx {
		return 1, nil
	}
	count, err := strconv.Atoi(args[idx])
	if err != nil || count < 1 {
		return 0, fmt.Errorf("invalid count '%s'", args[idx])
	}
	return count, nil
}

// parseDirection parses an optional "asc" / "desc" argument; true means descending.
func parseDirection(args []string) (bool, error) {
	if len(args) == 0 {
		return false, nil
	}
	switch strings.ToLower(args[0]) {
	case "asc":
		return false, nil
	case "desc":
		return true, nil
	default:
		return false, fmt.Errorf("invalid direction '%s', expected asc/desc", args[0])
	}
}

// checkOrder makes sure the values of `q` are ordered in the requested direction.
func (c *Console) checkOrder(q *queue.Queue, descend bool) error {
	compare := q.Compare()
	values := q.Values()
	for i := 1; i < len(values); i++ {
		order := compare(values[i-1], values[i])
		if (!descend && order > 0) || (descend && order < 0) {
			return fmt.Errorf("not sorted: '%s' is followed by '%s'", values[i-1], values[i])
		}
	}
	return nil
}

func runNew(c *Console, _ []string) error {
	q := queue.NewWithOptions(queue.Options{Allocator: c.alloc, Compare: c.compare})
	if err := c.chain.Add(q); err != nil {
		return err
	}
	c.current = q
	c.show()
	return nil
}

func runFree(c *Console, _ []string) error {
	q, err := c.requireQueue()
	if err != nil {
		return err
	}
	idx := c.chain.Index(q)
	q.Free()
	c.chain.Remove(q)
	c.current = c.chain.At(max(idx-1, 0))
	c.show()
	return nil
}

// runSwitch returns a command moving the current queue by `step` positions in the chain.
func runSwitch(step int) func(c *Console, _ []string) error {
	return func(c *Console, _ []string) error {
		if _, err := c.requireQueue(); err != nil {
			return err
		}
		next := c.chain.At(c.chain.Index(c.current) + step)
		if next == nil {
			return errors.New("no queue in that direction")
		}
		c.current = next
		c.show()
		return nil
	}
}

// runInsert returns the ih / it command.
func runInsert(atHead bool) func(c *Console, args []string) error {
	return func(c *Console, args []string) error {
		q, err := c.requireQueue()
		if err != nil {
			return err
		}
		count, err := parseCount(args, 1)
		if err != nil {
			return err
		}
		var insertErr error
		for range count {
			if atHead {
				insertErr = q.InsertHead(args[0])
			} else {
				insertErr = q.InsertTail(args[0])
			}
			if insertErr != nil {
				break
			}
		}
		c.show()
		return insertErr
	}
}

// runRemove returns the rh / rt command. With an argument, the removed value must match it.
func runRemove(atHead bool) func(c *Console, args []string) error {
	return func(c *Console, args []string) error {
		q, err := c.requireQueue()
		if err != nil {
			return err
		}
		buf := make([]byte, c.copyLength)
		var e *queue.Element
		if atHead {
			e, err = q.RemoveHead(buf)
		} else {
			e, err = q.RemoveTail(buf)
		}
		if err != nil {
			return err
		}
		defer e.Release()
		removed := buf
		if idx := bytes.IndexByte(buf, 0); idx >= 0 {
			removed = buf[:idx]
		}
		c.printf("Removed %s from queue", removed)
		c.show()
		if len(args) > 0 && string(removed) != args[0] {
			return fmt.Errorf("removed value '%s' doesn't match expected value '%s'", removed, args[0])
		}
		return nil
	}
}

func runSize(c *Console, args []string) error {
	q, err := c.requireQueue()
	if err != nil {
		return err
	}
	count, err := parseCount(args, 0)
	if err != nil {
		return err
	}
	size := 0
	for range count {
		size = q.Size()
	}
	c.printf("Queue size = %d", size)
	return nil
}

func runDeleteMid(c *Console, _ []string) error {
	q, err := c.requireQueue()
	if err != nil {
		return err
	}
	if err := q.DeleteMid(); err != nil {
		return err
	}
	c.show()
	return nil
}

func runDedup(c *Console, _ []string) error {
	q, err := c.requireQueue()
	if err != nil {
		return err
	}
	if err := c.checkOrder(q, false); err != nil {
		if descErr := c.checkOrder(q, true); descErr != nil {
			return fmt.Errorf("dedup expects a sorted queue: %w", err)
		}
	}
	if !q.DeleteDup() {
		c.printf("No duplicates found")
	}
	c.show()
	return nil
}

// runRelink returns a command calling a relinking transform on the current queue.
func runRelink(transform func(q *queue.Queue)) func(c *Console, _ []string) error {
	return func(c *Console, _ []string) error {
		q, err := c.requireQueue()
		if err != nil {
			return err
		}
		transform(q)
		c.show()
		return nil
	}
}

func runReverseK(c *Console, args []string) error {
	q, err := c.requireQueue()
	if err != nil {
		return err
	}
	k, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid group size '%s'", args[0])
	}
	q.ReverseK(k)
	c.show()
	return nil
}

func runSort(c *Console, args []string) error {
	q, err := c.requireQueue()
	if err != nil {
		return err
	}
	descend, err := parseDirection(args)
	if err != nil {
		return err
	}
	q.Sort(descend)
	c.show()
	return c.checkOrder(q, descend)
}

// runFilter returns the ascend / descend command.
func runFilter(descend bool) func(c *Console, _ []string) error {
	return func(c *Console, _ []string) error {
		q, err := c.requireQueue()
		if err != nil {
			return err
		}
		var size int
		if descend {
			size = q.Descend()
		} else {
			size = q.Ascend()
		}
		c.printf("Queue size = %d", size)
		c.show()
		return nil
	}
}

func runMerge(c *Console, args []string) error {
	if _, err := c.requireQueue(); err != nil {
		return err
	}
	descend, err := parseDirection(args)
	if err != nil {
		return err
	}
	for idx, q := range c.chain.Queues() {
		if err := c.checkOrder(q, descend); err != nil {
			return fmt.Errorf("queue %d isn't sorted before merging: %w", idx, err)
		}
	}
	size := c.chain.Merge(descend)
	// The emptied queues have nothing left to offer; drop them from the session.
	for _, q := range c.chain.Queues()[1:] {
		q.Free()
		c.chain.Remove(q)
	}
	c.current = c.chain.At(0)
	c.printf("Queue size = %d", size)
	c.show()
	return c.checkOrder(c.current, descend)
}

func runShow(c *Console, _ []string) error {
	if c.chain.Len() == 0 {
		c.printf("No queues")
		return nil
	}
	for idx, q := range c.chain.Queues() {
		marker := " "
		if q == c.current {
			marker = "*"
		}
		c.printf("%s q[%d] = [%s]", marker, idx, strings.Join(q.Values(), " "))
	}
	return nil
}

func runOption(c *Console, args []string) error {
	if len(args) == 0 {
		c.printf("fail = %d", c.alloc.failPercent)
		c.printf("compare = %s", c.compareKey)
		c.printf("length = %d", c.copyLength)
		c.printf("echo = %t", c.echo)
		return nil
	}
	if len(args) != 2 {
		return fmt.Errorf("usage: %s", commands["option"].usage)
	}
	name, value := args[0], args[1]
	switch name {
	case "fail":
		percent, err := strconv.Atoi(value)
		if err != nil || percent < 0 || percent > 100 {
			return fmt.Errorf("invalid fail percentage '%s'", value)
		}
		c.alloc.SetFailPercent(percent)
	case "compare":
		compare, err := queue.CompareByName(value)
		if err != nil {
			return err
		}
		c.compare, c.compareKey = compare, value
	case "length":
		length, err := strconv.Atoi(value)
		if err != nil || length < 0 {
			return fmt.Errorf("invalid copy length '%s'", value)
		}
		c.copyLength = length
	case "echo":
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid echo value '%s'", value)
		}
		c.echo = enabled
	default:
		return fmt.Errorf("unknown option '%s'", name)
	}
	return nil
}

func runHelp(c *Console, _ []string) error {
	for _, name := range sortedKeys(commands) {
		c.printf("  %-10s %s", name, commands[name].usage)
	}
	c.printf("  %-10s %s", "quit", "quit")
	return nil
}

// sortedKeys returns the keys of `m` in lexicographic order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

func init() {
	commands = map[string]command{
		"new":      {usage: "new", maxArgs: 0, run: runNew},
		"free":     {usage: "free", maxArgs: 0, mutating: true, run: runFree},
		"prev":     {usage: "prev", maxArgs: 0, run: runSwitch(-1)},
		"next":     {usage: "next", maxArgs: 0, run: runSwitch(1)},
		"ih":       {usage: "ih str [n]", minArgs: 1, maxArgs: 2, mutating: true, run: runInsert(true)},
		"it":       {usage: "it str [n]", minArgs: 1, maxArgs: 2, mutating: true, run: runInsert(false)},
		"rh":       {usage: "rh [str]", maxArgs: 1, mutating: true, run: runRemove(true)},
		"rt":       {usage: "rt [str]", maxArgs: 1, mutating: true, run: runRemove(false)},
		"size":     {usage: "size [n]", maxArgs: 1, run: runSize},
		"dm":       {usage: "dm", maxArgs: 0, mutating: true, run: runDeleteMid},
		"dedup":    {usage: "dedup", maxArgs: 0, mutating: true, run: runDedup},
		"swap":     {usage: "swap", maxArgs: 0, mutating: true, run: runRelink((*queue.Queue).Swap)},
		"reverse":  {usage: "reverse", maxArgs: 0, mutating: true, run: runRelink((*queue.Queue).Reverse)},
		"reverseK": {usage: "reverseK k", minArgs: 1, maxArgs: 1, mutating: true, run: runReverseK},
		"sort":     {usage: "sort [asc|desc]", maxArgs: 1, mutating: true, run: runSort},
		"ascend":   {usage: "ascend", maxArgs: 0, mutating: true, run: runFilter(false)},
		"descend":  {usage: "descend", maxArgs: 0, mutating: true, run: runFilter(true)},
		"merge":    {usage: "merge [asc|desc]", maxArgs: 1, mutating: true, run: runMerge},
		"show":     {usage: "show", maxArgs: 0, run: runShow},
		"option":   {usage: "option [fail|compare|length|echo value]", maxArgs: 2, run: runOption},
		"help":     {usage: "help", maxArgs: 0, run: runHelp},
	}
}
