package bcache

// link is one node of an index-linked recency list. Nodes 0..n-1 are buffers;
// node n+s is the sentinel of shard s.
type link struct {
	prev, next int32
}

// lists holds the recency lists of all shards in one arena.
type lists struct {
	nodes []link
	n     int32
}

func newLists(buffers, shards int) lists {
	ls := lists{
		nodes: make([]link, buffers+shards),
		n:     int32(buffers),
	}
	for s := range shards {
		h := ls.head(s)
		ls.nodes[h] = link{prev: h, next: h}
	}
	return ls
}

func (ls *lists) head(shard int) int32 {
	return ls.n + int32(shard)
}

// pushFront links i at the most recently used end of shard.
func (ls *lists) pushFront(shard int, i int32) {
	h := ls.head(shard)
	next := ls.nodes[h].next
	ls.nodes[i] = link{prev: h, next: next}
	ls.nodes[next].prev = i
	ls.nodes[h].next = i
}

// remove unlinks i from whatever list it is on.
func (ls *lists) remove(i int32) {
	l := ls.nodes[i]
	ls.nodes[l.prev].next = l.next
	ls.nodes[l.next].prev = l.prev
	ls.nodes[i] = link{prev: i, next: i}
}

// moveToFront relinks i at the most recently used end of shard.
func (ls *lists) moveToFront(shard int, i int32) {
	if ls.nodes[ls.head(shard)].next == i {
		return
	}
	ls.remove(i)
	ls.pushFront(shard, i)
}

// first returns the most recently used node of shard, or -1.
func (ls *lists) first(shard int) int32 {
	return ls.valid(shard, ls.nodes[ls.head(shard)].next)
}

// last returns the least recently used node of shard, or -1.
func (ls *lists) last(shard int) int32 {
	return ls.valid(shard, ls.nodes[ls.head(shard)].prev)
}

// next returns the node after i toward the LRU end, or -1.
func (ls *lists) next(shard int, i int32) int32 {
	return ls.valid(shard, ls.nodes[i].next)
}

// prev returns the node before i toward the MRU end, or -1.
func (ls *lists) prev(shard int, i int32) int32 {
	return ls.valid(shard, ls.nodes[i].prev)
}

func (ls *lists) valid(shard int, i int32) int32 {
	if i == ls.head(shard) {
		return -1
	}
	return i
}
