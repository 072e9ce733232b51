// Package shard assigns keys to a fixed number of shards.
package shard

import "hash/fnv"

// Of returns the shard of key among n shards. With n <= 1 every key is in shard 0.
// The assignment is stable: the same key always lands in the same shard.
func Of(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
