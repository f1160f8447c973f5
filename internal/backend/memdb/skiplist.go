package memdb

import "math/rand"

const (
	maxLevel    = 16
	probability = 0.5
)

type node[V any] struct {
	key     string
	value   V
	forward []*node[V]
}

// skipList keeps the rows of a table ordered by id
type skipList[V any] struct {
	head  *node[V]
	level int
	size  int
}

func newSkipList[V any]() *skipList[V] {
	return &skipList[V]{head: &node[V]{forward: make([]*node[V], maxLevel)}}
}

func (sl *skipList[V]) randomLevel() int {
	level := 0
	for rand.Float64() < probability && level < maxLevel-1 {
		level++
	}
	return level
}

// predecessors returns, per level, the last node with a key below key
func (sl *skipList[V]) predecessors(key string) []*node[V] {
	update := make([]*node[V], maxLevel)
	current := sl.head
	for i := sl.level; i >= 0; i-- {
		for current.forward[i] != nil && current.forward[i].key < key {
			current = current.forward[i]
		}
		update[i] = current
	}
	return update
}

// put inserts or replaces the value of key and reports whether key was new
func (sl *skipList[V]) put(key string, value V) bool {
	update := sl.predecessors(key)
	if next := update[0].forward[0]; next != nil && next.key == key {
		next.value = value
		return false
	}

	level := sl.randomLevel()
	if level > sl.level {
		for i := sl.level + 1; i <= level; i++ {
			update[i] = sl.head
		}
		sl.level = level
	}
	n := &node[V]{key: key, value: value, forward: make([]*node[V], level+1)}
	for i := 0; i <= level; i++ {
		n.forward[i] = update[i].forward[i]
		update[i].forward[i] = n
	}
	sl.size++
	return true
}

func (sl *skipList[V]) get(key string) (V, bool) {
	next := sl.predecessors(key)[0].forward[0]
	if next != nil && next.key == key {
		return next.value, true
	}
	var zero V
	return zero, false
}

func (sl *skipList[V]) remove(key string) bool {
	update := sl.predecessors(key)
	target := update[0].forward[0]
	if target == nil || target.key != key {
		return false
	}
	for i := 0; i <= sl.level; i++ {
		if update[i].forward[i] != target {
			break
		}
		update[i].forward[i] = target.forward[i]
	}
	for sl.level > 0 && sl.head.forward[sl.level] == nil {
		sl.level--
	}
	sl.size--
	return true
}

// ascend calls fn for every entry in key order until fn returns false
func (sl *skipList[V]) ascend(fn func(key string, value V) bool) {
	for n := sl.head.forward[0]; n != nil; n = n.forward[0] {
		if !fn(n.key, n.value) {
			return
		}
	}
}
