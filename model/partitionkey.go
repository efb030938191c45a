package model

import "github.com/cespare/xxhash/v2"

// PartitionKey is the serialized byte sequence of partition-key column
// values for one series. It is the identity of a time series.
type PartitionKey []byte

// ShardHash returns a stable hash of the partition key used to assign it to
// a shard. Grounded on the teacher's use of xxhash for shard assignment
// throughout dbnode/sharding.
func (k PartitionKey) ShardHash() uint64 {
	return xxhash.Sum64(k)
}

// ShardNum returns the shard index for this key given a total shard count.
func (k PartitionKey) ShardNum(numShards int) uint32 {
	if numShards <= 0 {
		return 0
	}
	return uint32(k.ShardHash() % uint64(numShards))
}

// String renders the key for logging; partition keys are opaque bytes so
// this is best-effort, not a decode.
func (k PartitionKey) String() string {
	return string(k)
}

// Equal reports whether two partition keys are byte-identical.
func (k PartitionKey) Equal(other PartitionKey) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}
	return true
}
