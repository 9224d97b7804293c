package port

import (
	"fmt"
	"testing"

	"github.com/nobletooth/ringq/pkg/queue"
	promclient "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/redcon"
)

// newTestHandler creates a handler over an empty store.
func newTestHandler(t *testing.T) *redisHandler {
	t.Helper()
	handler, err := newRedisHandler(newQueueStore(4, queue.Options{}))
	require.NoError(t, err)
	return handler
}

// run executes a command given as its words.
func run(handler *redisHandler, words ...string) redisOutput {
	return handler.handle(redisCommand{command: words[0], args: words[1:]})
}

// assertInt makes sure the output is the integer `expected`.
func assertInt(t *testing.T, expected int, output redisOutput) {
	t.Helper()
	require.Nil(t, output.err, "Unexpected error output")
	require.NotNil(t, output.writeInt, "Expected an integer output")
	assert.Equal(t, expected, *output.writeInt)
}

// assertArray makes sure the output is the array `expected`.
func assertArray(t *testing.T, expected []string, output redisOutput) {
	t.Helper()
	require.Nil(t, output.err, "Unexpected error output")
	require.NotNil(t, output.writeArray, "Expected an array output")
	assert.Equal(t, expected, output.writeArray)
}

// assertError makes sure the output is an error containing `expected`.
func assertError(t *testing.T, expected string, output redisOutput) {
	t.Helper()
	require.NotNil(t, output.err, "Expected an error output")
	assert.Contains(t, *output.err, expected)
}

func TestNewRedisHandler(t *testing.T) {
	_, err := newRedisHandler(nil)
	assert.Error(t, err)
}

func TestRedisHandler_Connection(t *testing.T) {
	handler := newTestHandler(t)
	assert.Equal(t, writeRedisString("PONG"), run(handler, "PING"))
	assert.Equal(t, writeRedisBulk("hello"), run(handler, "ping", "hello"))
	assert.Equal(t, closeRedisConnection(RedisOk), run(handler, "QUIT"))
	assertError(t, "unknown command 'FLUSHALL'", run(handler, "flushall"))
	assertError(t, "wrong number of arguments for 'lpush' command", run(handler, "LPUSH", "q"))
}

func TestRedisHandler_PushPop(t *testing.T) {
	handler := newTestHandler(t)
	assertInt(t, 2, run(handler, "RPUSH", "q", "b", "c"))
	assertInt(t, 4, run(handler, "LPUSH", "q", "x", "a"))
	assertArray(t, []string{"a", "x", "b", "c"}, run(handler, "LRANGE", "q", "0", "-1"))
	assertInt(t, 4, run(handler, "LLEN", "q"))

	assert.Equal(t, writeRedisBulk("a"), run(handler, "LPOP", "q"))
	assert.Equal(t, writeRedisBulk("c"), run(handler, "RPOP", "q"))
	assert.Equal(t, writeRedisBulk("x"), run(handler, "LPOP", "q"))
	assert.Equal(t, writeRedisBulk("b"), run(handler, "LPOP", "q"))
	assert.Equal(t, writeRedisNil(), run(handler, "LPOP", "q"))
	assert.Equal(t, writeRedisNil(), run(handler, "RPOP", "missing"))
	assertInt(t, 0, run(handler, "LLEN", "q"))
	assertArray(t, []string{}, run(handler, "KEYS", "*"))
}

func TestRedisHandler_LRange(t *testing.T) {
	handler := newTestHandler(t)
	assertInt(t, 5, run(handler, "RPUSH", "q", "a", "b", "c", "d", "e"))
	for _, testCase := range []struct {
		start, stop string
		expected    []string
	}{
		{"0", "-1", []string{"a", "b", "c", "d", "e"}},
		{"1", "2", []string{"b", "c"}},
		{"-2", "-1", []string{"d", "e"}},
		{"-100", "1", []string{"a", "b"}},
		{"3", "100", []string{"d", "e"}},
		{"3", "1", []string{}},
		{"5", "10", []string{}},
	} {
		assertArray(t, testCase.expected, run(handler, "LRANGE", "q", testCase.start, testCase.stop))
	}
	assertArray(t, []string{}, run(handler, "LRANGE", "missing", "0", "-1"))
	assertError(t, "not an integer", run(handler, "LRANGE", "q", "zero", "1"))
}

func TestRedisHandler_KeysAndDel(t *testing.T) {
	handler := newTestHandler(t)
	run(handler, "RPUSH", "jobs:1", "a")
	run(handler, "RPUSH", "jobs:2", "b")
	run(handler, "RPUSH", "retries", "c")

	assertArray(t, []string{"jobs:1", "jobs:2", "retries"}, run(handler, "KEYS", "*"))
	assertArray(t, []string{"jobs:1", "jobs:2"}, run(handler, "KEYS", "jobs:*"))
	assertInt(t, 2, run(handler, "DEL", "jobs:1", "retries", "missing"))
	assertArray(t, []string{"jobs:2"}, run(handler, "KEYS", "*"))
}

func TestRedisHandler_Transforms(t *testing.T) {
	for _, testCase := range []struct {
		name     string
		values   []string
		command  []string
		output   redisOutput
		expected []string
	}{
		{name: "reverse", values: []string{"a", "b", "c"}, command: []string{"QREVERSE", "q"},
			output: writeRedisString(RedisOk), expected: []string{"c", "b", "a"}},
		{name: "reverse groups", values: []string{"1", "2", "3", "4", "5"}, command: []string{"QREVERSEK", "q", "2"},
			output: writeRedisString(RedisOk), expected: []string{"2", "1", "4", "3", "5"}},
		{name: "swap", values: []string{"1", "2", "3"}, command: []string{"QSWAP", "q"},
			output: writeRedisString(RedisOk), expected: []string{"2", "1", "3"}},
		{name: "delete mid", values: []string{"1", "2", "3", "4"}, command: []string{"QDELMID", "q"},
			output: writeRedisInt(1), expected: []string{"1", "2", "4"}},
		{name: "dedup", values: []string{"a", "a", "b", "c", "c", "c"}, command: []string{"QDEDUP", "q"},
			output: writeRedisInt(5), expected: []string{"b"}},
		{name: "sort", values: []string{"c", "a", "b"}, command: []string{"QSORT", "q"},
			output: writeRedisString(RedisOk), expected: []string{"a", "b", "c"}},
		{name: "sort descending", values: []string{"c", "a", "b"}, command: []string{"QSORT", "q", "desc"},
			output: writeRedisString(RedisOk), expected: []string{"c", "b", "a"}},
		{name: "ascend", values: []string{"1", "5", "2", "3"}, command: []string{"QASCEND", "q"},
			output: writeRedisInt(3), expected: []string{"1", "2", "3"}},
		{name: "descend", values: []string{"5", "2", "4", "3"}, command: []string{"QDESCEND", "q"},
			output: writeRedisInt(3), expected: []string{"5", "4", "3"}},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			handler := newTestHandler(t)
			run(handler, append([]string{"RPUSH", "q"}, testCase.values...)...)
			assert.Equal(t, testCase.output, run(handler, testCase.command...))
			assertArray(t, testCase.expected, run(handler, "LRANGE", "q", "0", "-1"))
		})
	}

	t.Run("missing queues", func(t *testing.T) {
		handler := newTestHandler(t)
		assert.Equal(t, writeRedisString(RedisOk), run(handler, "QREVERSE", "missing"))
		assertInt(t, 0, run(handler, "QDELMID", "missing"))
		assertInt(t, 0, run(handler, "QDEDUP", "missing"))
		assertInt(t, 0, run(handler, "QASCEND", "missing"))
		assertArray(t, []string{}, run(handler, "KEYS", "*"))
	})

	t.Run("invalid arguments", func(t *testing.T) {
		handler := newTestHandler(t)
		assertError(t, "not an integer", run(handler, "QREVERSEK", "q", "two"))
		assertError(t, "syntax error", run(handler, "QSORT", "q", "up"))
	})
}

func TestRedisHandler_Merge(t *testing.T) {
	t.Run("ascending", func(t *testing.T) {
		handler := newTestHandler(t)
		run(handler, "RPUSH", "a", "1", "3")
		run(handler, "RPUSH", "b", "2")
		run(handler, "RPUSH", "c", "0", "4")
		assertArray(t, []string{"0", "1", "2", "3", "4"}, run(handler, "QMRANGE", "ASC", "a", "b", "c"))
		assertArray(t, []string{"a", "b", "c"}, run(handler, "KEYS", "*"))

		assertInt(t, 5, run(handler, "QMERGE", "asc", "a", "b", "c"))
		assertArray(t, []string{"0", "1", "2", "3", "4"}, run(handler, "LRANGE", "a", "0", "-1"))
		assertArray(t, []string{"a"}, run(handler, "KEYS", "*"))
	})

	t.Run("descending into a missing queue", func(t *testing.T) {
		handler := newTestHandler(t)
		run(handler, "RPUSH", "a", "9", "4")
		run(handler, "RPUSH", "b", "7", "4", "1")
		assertArray(t, []string{"9", "7", "4", "4", "1"}, run(handler, "QMRANGE", "DESC", "a", "b"))
		assertInt(t, 5, run(handler, "QMERGE", "DESC", "dst", "a", "b"))
		assertArray(t, []string{"9", "7", "4", "4", "1"}, run(handler, "LRANGE", "dst", "0", "-1"))
		assertArray(t, []string{"dst"}, run(handler, "KEYS", "*"))
	})

	t.Run("repeated queue", func(t *testing.T) {
		handler := newTestHandler(t)
		run(handler, "RPUSH", "a", "1")
		assertError(t, "merged only once", run(handler, "QMERGE", "ASC", "a", "a"))
		assertArray(t, []string{"1"}, run(handler, "LRANGE", "a", "0", "-1"))
	})

	t.Run("bad direction", func(t *testing.T) {
		handler := newTestHandler(t)
		assertError(t, "syntax error", run(handler, "QMERGE", "UP", "a", "b"))
		assertError(t, "syntax error", run(handler, "QMRANGE", "UP", "a"))
	})
}

// recordingConn records what is written to a connection. Methods it doesn't override panic.
type recordingConn struct {
	redcon.Conn
	writes []string
	closed bool
}

func (c *recordingConn) WriteString(s string) { c.writes = append(c.writes, "+"+s) }
func (c *recordingConn) WriteBulkString(s string) { c.writes = append(c.writes, "$"+s) }
func (c *recordingConn) WriteInt(n int) { c.writes = append(c.writes, fmt.Sprintf(":%d", n)) }
func (c *recordingConn) WriteNull() { c.writes = append(c.writes, "_") }
func (c *recordingConn) WriteError(msg string) { c.writes = append(c.writes, "-"+msg) }
func (c *recordingConn) WriteArray(count int) { c.writes = append(c.writes, fmt.Sprintf("*%d", count)) }
func (c *recordingConn) Close() error {
	c.closed = true
	return nil
}

func TestRedisOutput_Write(t *testing.T) {
	for _, testCase := range []struct {
		name     string
		output   redisOutput
		expected []string
		closed   bool
	}{
		{name: "string", output: writeRedisString("PONG"), expected: []string{"+PONG"}},
		{name: "bulk", output: writeRedisBulk("value"), expected: []string{"$value"}},
		{name: "int", output: writeRedisInt(3), expected: []string{":3"}},
		{name: "nil", output: writeRedisNil(), expected: []string{"_"}},
		{name: "error", output: writeRedisError(errSyntax), expected: []string{"-ERR syntax error"}},
		{name: "array", output: writeRedisArray([]string{"a", "b"}), expected: []string{"*2", "$a", "$b"}},
		{name: "empty array", output: writeRedisArray(nil), expected: []string{"*0"}},
		{name: "close", output: closeRedisConnection(RedisOk), expected: []string{"+OK"}, closed: true},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			conn := &recordingConn{}
			testCase.output.write(conn)
			assert.Equal(t, testCase.expected, conn.writes)
			assert.Equal(t, testCase.closed, conn.closed)
		})
	}
}

// commandCount returns the current value of the commands metric for the given labels.
func commandCount(t *testing.T, command, status string) float64 {
	t.Helper()
	metric := &promclient.Metric{}
	require.NoError(t, commandsMetric.WithLabelValues(command, status).Write(metric))
	return metric.GetCounter().GetValue()
}

func TestRedisHandler_CommandsMetric(t *testing.T) {
	handler := newTestHandler(t)
	okBefore := commandCount(t, "LLEN", "ok")
	unknownBefore := commandCount(t, "UNKNOWN", "error")
	run(handler, "llen", "q")
	run(handler, "bogus")
	assert.Equal(t, okBefore+1, commandCount(t, "LLEN", "ok"))
	assert.Equal(t, unknownBefore+1, commandCount(t, "UNKNOWN", "error"))
}
