package port

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/nobletooth/ringq/pkg/queue"
	"github.com/nobletooth/ringq/pkg/scan"
	"github.com/nobletooth/ringq/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tidwall/redcon"
)

const RedisOk = "OK"

var (
	address = flag.String("address", ":6380", "The ip:port to listen on for Redis protocol.")

	commandsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ringq_commands_total",
		Help: "Total number of Redis protocol commands by outcome.",
	}, []string{"command", "status" /* ok | error */})
)

var (
	errNotInteger = errors.New("value is not an integer or out of range")
	errSyntax     = errors.New("syntax error")
)

// redisCommand represents a Redis command with its arguments.
type redisCommand struct {
	command string
	args    []string
}

// redisOutput conforms to a real Redis server output on non pub / sub commands.
type redisOutput struct {
	closeConnection bool     // Closes the connection if true.
	writeNil        bool     // Writes a nil value if true.
	err             *string  // Error to return if set.
	writeInt        *int     // Writes an integer value if set.
	writeBulk       *string  // Writes a bulk string if set.
	writeArray      []string // Writes an array of bulk strings if non-nil.
	writeString     string   // Writes a simple string value otherwise.
}

func closeRedisConnection(msg string) redisOutput {
	return redisOutput{writeString: msg, closeConnection: true}
}

func writeRedisNil() redisOutput {
	return redisOutput{writeNil: true}
}

func writeRedisInt(i int) redisOutput {
	return redisOutput{writeInt: &i}
}

func writeRedisString(s string) redisOutput {
	return redisOutput{writeString: s}
}

func writeRedisBulk(s string) redisOutput {
	return redisOutput{writeBulk: &s}
}

func writeRedisArray(values []string) redisOutput {
	if values == nil {
		values = make([]string, 0)
	}
	return redisOutput{writeArray: values}
}

func writeRedisError(err error) redisOutput {
	msg := "ERR " + err.Error()
	return redisOutput{err: &msg}
}

func wrongArgCount(command string) redisOutput {
	return writeRedisError(fmt.Errorf("wrong number of arguments for '%s' command", strings.ToLower(command)))
}

// write sends the output over a redcon connection and closes it if requested.
func (output redisOutput) write(conn redcon.Conn) {
	switch {
	case output.err != nil:
		conn.WriteError(*output.err)
	case output.writeNil:
		conn.WriteNull()
	case output.writeInt != nil:
		conn.WriteInt(*output.writeInt)
	case output.writeBulk != nil:
		conn.WriteBulkString(*output.writeBulk)
	case output.writeArray != nil:
		conn.WriteArray(len(output.writeArray))
		for _, value := range output.writeArray {
			conn.WriteBulkString(value)
		}
	default:
		conn.WriteString(output.writeString)
	}
	if output.closeConnection {
		if err := conn.Close(); err != nil {
			slog.Error("failed to close connection", "error", err)
		}
	}
}

type redisHandler struct {
	store *QueueStore
}

// newRedisHandler creates a new redisHandler.
func newRedisHandler(store *QueueStore) (*redisHandler, error) {
	if store == nil {
		return nil, errors.New("expected a non-nil queue store")
	}
	return &redisHandler{store: store}, nil
}

// handle runs a command and counts its outcome.
func (rh *redisHandler) handle(cmd redisCommand) redisOutput {
	cmd.command = strings.ToUpper(cmd.command)
	output := rh.dispatch(cmd)
	status := "ok"
	if output.err != nil {
		status = "error"
	}
	label := cmd.command
	if _, known := redisCommands[label]; !known { // Keep the label cardinality bounded.
		label = "UNKNOWN"
	}
	commandsMetric.WithLabelValues(label, status).Inc()
	return output
}

// redisCommands lists the supported commands with their argument count bounds; a negative maximum means unbounded.
var redisCommands = map[string]struct{ minArgs, maxArgs int }{
	"PING":      {0, 1},
	"QUIT":      {0, 0},
	"LPUSH":     {2, -1},
	"RPUSH":     {2, -1},
	"LPOP":      {1, 1},
	"RPOP":      {1, 1},
	"LLEN":      {1, 1},
	"LRANGE":    {3, 3},
	"DEL":       {1, -1},
	"KEYS":      {1, 1},
	"QREVERSE":  {1, 1},
	"QREVERSEK": {2, 2},
	"QSWAP":     {1, 1},
	"QDELMID":   {1, 1},
	"QDEDUP":    {1, 1},
	"QSORT":     {1, 2},
	"QASCEND":   {1, 1},
	"QDESCEND":  {1, 1},
	"QMERGE":    {2, -1},
	"QMRANGE":   {2, -1},
}

func (rh *redisHandler) dispatch(cmd redisCommand) redisOutput {
	arity, known := redisCommands[cmd.command]
	if !known {
		return writeRedisError(fmt.Errorf("unknown command '%s'", cmd.command))
	}
	if len(cmd.args) < arity.minArgs || (arity.maxArgs >= 0 && len(cmd.args) > arity.maxArgs) {
		return wrongArgCount(cmd.command)
	}

	switch cmd.command {
	case "PING":
		if len(cmd.args) == 1 {
			return writeRedisBulk(cmd.args[0])
		}
		return writeRedisString("PONG")
	case "QUIT":
		return closeRedisConnection(RedisOk)
	case "LPUSH", "RPUSH":
		return rh.push(cmd.args[0], cmd.args[1:], cmd.command == "LPUSH")
	case "LPOP", "RPOP":
		return rh.pop(cmd.args[0], cmd.command == "LPOP")
	case "LLEN":
		size := 0
		_ = rh.store.Do(cmd.args[0], false /*create*/, func(q *queue.Queue) error {
			size = q.Size()
			return nil
		})
		return writeRedisInt(size)
	case "LRANGE":
		return rh.lrange(cmd.args[0], cmd.args[1], cmd.args[2])
	case "DEL":
		return writeRedisInt(rh.store.Delete(cmd.args...))
	case "KEYS":
		if err := scan.ValidGlob(cmd.args[0]); err != nil {
			return writeRedisError(fmt.Errorf("invalid pattern: %w", err))
		}
		return writeRedisArray(slices.Collect(scan.MatchGlob(cmd.args[0], slices.Values(rh.store.Names()))))
	case "QREVERSE":
		return rh.relink(cmd.args[0], (*queue.Queue).Reverse)
	case "QREVERSEK":
		k, err := strconv.Atoi(cmd.args[1])
		if err != nil {
			return writeRedisError(errNotInteger)
		}
		return rh.relink(cmd.args[0], func(q *queue.Queue) { q.ReverseK(k) })
	case "QSWAP":
		return rh.relink(cmd.args[0], (*queue.Queue).Swap)
	case "QDELMID":
		deleted := 0
		_ = rh.store.Do(cmd.args[0], false /*create*/, func(q *queue.Queue) error {
			if q.DeleteMid() == nil {
				deleted = 1
			}
			return nil
		})
		return writeRedisInt(deleted)
	case "QDEDUP":
		removed := 0
		_ = rh.store.Do(cmd.args[0], false /*create*/, func(q *queue.Queue) error {
			before := q.Size()
			q.DeleteDup()
			removed = before - q.Size()
			return nil
		})
		return writeRedisInt(removed)
	case "QSORT":
		descend, err := parseDirection(cmd.args[1:])
		if err != nil {
			return writeRedisError(err)
		}
		return rh.relink(cmd.args[0], func(q *queue.Queue) { q.Sort(descend) })
	case "QASCEND", "QDESCEND":
		size := 0
		_ = rh.store.Do(cmd.args[0], false /*create*/, func(q *queue.Queue) error {
			if cmd.command == "QASCEND" {
				size = q.Ascend()
			} else {
				size = q.Descend()
			}
			return nil
		})
		return writeRedisInt(size)
	case "QMERGE":
		return rh.merge(cmd.args[0], cmd.args[1:])
	case "QMRANGE":
		return rh.mergedRange(cmd.args[0], cmd.args[1:])
	default:
		utils.RaiseInvariant("port", "unhandled_command", "A known command has no handler.", "command", cmd.command)
		return writeRedisError(fmt.Errorf("unknown command '%s'", cmd.command))
	}
}

// parseDirection parses an optional ASC / DESC argument; true means descending.
func parseDirection(args []string) (bool, error) {
	if len(args) == 0 {
		return false, nil
	}
	switch strings.ToUpper(args[0]) {
	case "ASC":
		return false, nil
	case "DESC":
		return true, nil
	default:
		return false, errSyntax
	}
}

// push inserts `values` one by one and replies with the new size. Values inserted before an allocation failure stay.
func (rh *redisHandler) push(name string, values []string, atHead bool) redisOutput {
	size := 0
	err := rh.store.Do(name, true /*create*/, func(q *queue.Queue) error {
		for _, value := range values {
			var err error
			if atHead {
				err = q.InsertHead(value)
			} else {
				err = q.InsertTail(value)
			}
			if err != nil {
				return err
			}
		}
		size = q.Size()
		return nil
	})
	if err != nil {
		return writeRedisError(err)
	}
	return writeRedisInt(size)
}

// pop removes one element and replies with its value, or nil if the queue doesn't exist.
func (rh *redisHandler) pop(name string, atHead bool) redisOutput {
	var (
		value string
		found bool
	)
	err := rh.store.Do(name, false /*create*/, func(q *queue.Queue) error {
		if q.Empty() {
			return nil
		}
		var (
			e   *queue.Element
			err error
		)
		if atHead {
			e, err = q.RemoveHead(nil)
		} else {
			e, err = q.RemoveTail(nil)
		}
		if err != nil {
			return err
		}
		defer e.Release()
		value, found = e.Value, true
		return nil
	})
	if err != nil {
		return writeRedisError(err)
	}
	if !found {
		return writeRedisNil()
	}
	return writeRedisBulk(value)
}

// lrange replies with the values between the inclusive `start` and `stop` indexes. Negative indexes count from the
// back of the queue, like Redis does.
func (rh *redisHandler) lrange(name, startArg, stopArg string) redisOutput {
	start, startErr := strconv.Atoi(startArg)
	stop, stopErr := strconv.Atoi(stopArg)
	if startErr != nil || stopErr != nil {
		return writeRedisError(errNotInteger)
	}
	var values []string
	_ = rh.store.Do(name, false /*create*/, func(q *queue.Queue) error {
		values = q.Values()
		return nil
	})
	size := len(values)
	if start < 0 {
		start = max(start+size, 0)
	}
	if stop < 0 {
		stop += size
	}
	stop = min(stop, size-1)
	if start > stop || start >= size {
		return writeRedisArray(nil)
	}
	return writeRedisArray(values[start : stop+1])
}

// relink applies a transform to an existing queue. Missing queues are left missing.
func (rh *redisHandler) relink(name string, transform func(q *queue.Queue)) redisOutput {
	_ = rh.store.Do(name, false /*create*/, func(q *queue.Queue) error {
		if q != nil {
			transform(q)
		}
		return nil
	})
	return writeRedisString(RedisOk)
}

// merge implements QMERGE ASC|DESC dst src...: every source queue is merged into `dst`, leaving them deleted.
// Replies with the size of `dst`.
func (rh *redisHandler) merge(directionArg string, names []string) redisOutput {
	descend, err := parseDirection([]string{directionArg})
	if err != nil {
		return writeRedisError(err)
	}
	size := 0
	err = rh.store.DoMany(names, func(queues []*queue.Queue) error {
		var chain queue.Chain
		for _, q := range queues {
			if err := chain.Add(q); err != nil {
				return fmt.Errorf("each queue can be merged only once: %w", err)
			}
		}
		size = chain.Merge(descend)
		return nil
	})
	if err != nil {
		return writeRedisError(err)
	}
	return writeRedisInt(size)
}

// mergedRange implements QMRANGE ASC|DESC key...: replies with the values of the sorted queues in merged order,
// leaving the queues unchanged.
func (rh *redisHandler) mergedRange(directionArg string, names []string) redisOutput {
	descend, err := parseDirection([]string{directionArg})
	if err != nil {
		return writeRedisError(err)
	}
	var values []string
	err = rh.store.DoMany(names, func(queues []*queue.Queue) error {
		compare := queues[0].Compare()
		if descend {
			ascending := compare
			compare = func(x, y string) int { return ascending(y, x) }
		}
		sequences := make([]iter.Seq[string], 0, len(queues))
		for _, q := range queues {
			sequences = append(sequences, q.All())
		}
		merged, err := scan.MultiHead(compare, sequences)
		if err != nil {
			return err
		}
		values = slices.Collect(merged)
		return nil
	})
	if err != nil {
		return writeRedisError(err)
	}
	return writeRedisArray(values)
}

// RunRedisServer starts a Redis protocol server serving the queues of the provided store.
func RunRedisServer(ctx context.Context, store *QueueStore) error {
	if *address == "" {
		return errors.New("expected a non-empty --address flag")
	}

	redisHandler, err := newRedisHandler(store)
	if err != nil {
		return fmt.Errorf("failed to create a new redis handler: %w", err)
	}

	redisServer := redcon.NewServerNetwork("tcp" /*net*/, *address,
		/*handler*/ func(conn redcon.Conn, cmd redcon.Command) {
			// Convert redcon.Command to redisCommand.
			command := redisCommand{command: string(cmd.Args[0]), args: make([]string, len(cmd.Args)-1)}
			for i := 1; i < len(cmd.Args); i++ {
				command.args[i-1] = string(cmd.Args[i])
			}
			redisHandler.handle(command).write(conn)
		},
		/*accept*/ func(conn redcon.Conn) bool {
			slog.Debug("Accepted a connection.", "remote", conn.RemoteAddr())
			return true // Accept all connections.
		},
		/*close*/ func(conn redcon.Conn, err error) {
			if err != nil {
				slog.Debug("Connection closed with an error.", "remote", conn.RemoteAddr(), "error", err)
			}
		})

	serverErrSignal := make(chan error, 1)
	go func() {
		if err := redisServer.ListenAndServe(); err != nil {
			serverErrSignal <- err
		}
		close(serverErrSignal)
	}()

	select {
	case <-ctx.Done():
		serverErr := redisServer.Close()
		storeErr := store.Close()
		if exitErr := errors.Join(serverErr, storeErr); exitErr != nil {
			return fmt.Errorf("failed to close ringq: %w", exitErr)
		}
	case err := <-serverErrSignal:
		return fmt.Errorf("redis server stopped unexpectedly: %w", err)
	}

	return nil // Exited with no errors.
}
