// Queues aren't thread-safe, so the port keeps them in lock shards. A queue name is hashed to pick its shard and
// every access to a queue happens while holding that shard's mutex. Spreading the queues over several shards lets
// clients working on different queues proceed in parallel. Commands touching several queues lock all of their
// shards in ascending shard order, which keeps concurrent multi-queue commands from deadlocking.
//
// Like Redis lists, a queue exists only while it holds elements: emptied queues are dropped from the store.

package port

import (
	"flag"
	"fmt"
	"runtime"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/nobletooth/ringq/pkg/queue"
	"github.com/nobletooth/ringq/pkg/utils"
)

var (
	shardCount   = flag.Int("shard_count", runtime.NumCPU(), "The number of lock shards holding the named queues.")
	queueCompare = flag.String("queue_compare", "lex", "Value order used by served queues: lex/natural.")
)

// queueShard holds the queues hashed to it.
type queueShard struct {
	mux    sync.Mutex
	queues map[ /*name*/ string]*queue.Queue
}

// QueueStore keeps named queues behind sharded locks.
type QueueStore struct {
	shards  []*queueShard
	options queue.Options // Used for every queue the store creates.
}

// NewQueueStore creates a store configured by --shard_count and --queue_compare.
func NewQueueStore() (*QueueStore, error) {
	compare, err := queue.CompareByName(*queueCompare)
	if err != nil {
		return nil, fmt.Errorf("invalid --queue_compare value: %w", err)
	}
	return newQueueStore(*shardCount, queue.Options{Compare: compare}), nil
}

func newQueueStore(count int, options queue.Options) *QueueStore {
	// Ensure there is at least one shard.
	if count <= 0 {
		utils.RaiseInvariant("store", "non_positive_shard_count",
			"Invalid shard count has been given to the queue store.", "shardCount", count)
		count = 1
	}
	store := &QueueStore{shards: make([]*queueShard, count), options: options}
	for i := range count {
		store.shards[i] = &queueShard{queues: make(map[string]*queue.Queue)}
	}
	return store
}

// shardIndex determines which shard a queue name belongs to.
func (s *QueueStore) shardIndex(name string) int {
	return int(xxhash.Sum64String(name) % uint64(len(s.shards)))
}

// lookup returns the named queue of a locked shard, creating it if `create` is set. Returns nil if missing.
func (s *QueueStore) lookup(shard *queueShard, name string, create bool) *queue.Queue {
	q, found := shard.queues[name]
	if !found && create {
		q = queue.NewWithOptions(s.options)
		shard.queues[name] = q
	}
	return q
}

// dropIfEmpty removes the named queue of a locked shard once it has no elements left.
func (shard *queueShard) dropIfEmpty(name string) {
	if q, found := shard.queues[name]; found && q.Empty() {
		delete(shard.queues, name)
	}
}

// Do runs `fn` with exclusive access to the named queue. Missing queues are created when `create` is set and
// passed as nil otherwise; queue methods accept nil queues.
func (s *QueueStore) Do(name string, create bool, fn func(q *queue.Queue) error) error {
	shard := s.shards[s.shardIndex(name)]
	shard.mux.Lock()
	defer shard.mux.Unlock()

	defer shard.dropIfEmpty(name)
	return fn(s.lookup(shard, name, create))
}

// DoMany runs `fn` with exclusive access to all the named queues at once, in the order of `names`. Missing queues
// are created. A name given twice yields the same queue twice.
func (s *QueueStore) DoMany(names []string, fn func(queues []*queue.Queue) error) error {
	shardIndexes := make([]int, 0, len(names))
	for _, name := range names {
		shardIndexes = append(shardIndexes, s.shardIndex(name))
	}
	lockOrder := slices.Clone(shardIndexes)
	slices.Sort(lockOrder)
	lockOrder = slices.Compact(lockOrder)
	for _, idx := range lockOrder {
		s.shards[idx].mux.Lock()
	}
	defer func() {
		for i := len(lockOrder) - 1; i >= 0; i-- {
			s.shards[lockOrder[i]].mux.Unlock()
		}
	}()

	queues := make([]*queue.Queue, len(names))
	for i, name := range names {
		queues[i] = s.lookup(s.shards[shardIndexes[i]], name, true /*create*/)
	}
	defer func() {
		for i, name := range names {
			s.shards[shardIndexes[i]].dropIfEmpty(name)
		}
	}()
	return fn(queues)
}

// Delete frees the named queues and returns how many of them existed.
func (s *QueueStore) Delete(names ...string) int {
	deleted := 0
	for _, name := range names {
		shard := s.shards[s.shardIndex(name)]
		shard.mux.Lock()
		if q, found := shard.queues[name]; found {
			q.Free()
			delete(shard.queues, name)
			deleted++
		}
		shard.mux.Unlock()
	}
	return deleted
}

// Len returns the number of non-empty queues in the store.
func (s *QueueStore) Len() int {
	count := 0
	for _, shard := range s.shards {
		shard.mux.Lock()
		count += len(shard.queues)
		shard.mux.Unlock()
	}
	return count
}

// Names returns the names of the non-empty queues in the store, sorted.
func (s *QueueStore) Names() []string {
	names := make([]string, 0)
	for _, shard := range s.shards {
		shard.mux.Lock()
		for name := range shard.queues {
			names = append(names, name)
		}
		shard.mux.Unlock()
	}
	slices.Sort(names)
	return names
}

// Close frees every queue of the store.
func (s *QueueStore) Close() error {
	for _, shard := range s.shards {
		shard.mux.Lock()
		for name, q := range shard.queues {
			q.Free()
			delete(shard.queues, name)
		}
		shard.mux.Unlock()
	}
	return nil
}
