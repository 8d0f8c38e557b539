/*
Package types defines the shared data model for the optcoord coordinator.

It holds the value and request types exchanged with the injected compute
function, the statistics snapshots published by each component (cache, pool,
memory monitor, performance monitor, batch processor), and the enums used to
classify memory pressure and performance trends.

The package has no dependencies on the internal packages so it can be imported
by callers that only need the result and stats types.
*/
package types
