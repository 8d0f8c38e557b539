/*
Package cache implements the coordinator's result cache.

The cache is bounded and TTL-aware. Eviction is a hybrid of LFU and recency:
when the cache is full, the entry with the lowest access count is removed,
and ties are broken by oldest creation time. Expired entries are treated as
absent on read and are additionally swept by a background goroutine so memory
stays bounded even without reads.

Key generation is the cache's correctness contract: requests are serialized
to canonical JSON (object keys sorted lexicographically at every nesting
level) and hashed, so logically identical requests always share a key
regardless of how their maps were built.
*/
package cache
