// Package meshmap implements a cluster-replicated key/value map.
//
// Every key lives on exactly one primary node at a time. The primary
// replicates puts and diffs to a small set of backups chosen round-robin
// across the cluster; every other live member holds a proxy entry that
// knows where the primary and backups are but holds no value. Losing the
// primary promotes a backup; losing a backup picks a new one. The map
// never blocks a local reader or writer on cluster consensus — "last
// writer on the primary wins" is the whole consistency story.
//
// The map does not open sockets, serialize bytes, or discover peers
// itself. It is driven entirely through the Channel/RPCChannel pair
// (transport.go) and the Codec pair (codec.go), both supplied by the
// caller. See pkg/transport/local and pkg/transport/httpchan for two
// implementations, and pkg/codec/gobcodec for a default codec.
//
// # Comparing values
//
// ContainsValue and any V comparison meshmap performs internally uses ==
// when V is comparable, or the Equal(V) bool method when V implements it.
// Types that are neither comparable nor implement Equal should not rely on
// ContainsValue.
package meshmap
