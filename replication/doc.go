package replication

/**
This package is for the replication feature of colstore.
Replication of colstore is based on column deltas. Columns are append-only, so the number of rows and
data bytes a replica holds is all a master needs to know to compute what the replica is missing.

- Producer / Delta (master)
	A Producer is configured with a replica's watermark and returns a Delta: the tail of the index region
	and the tail of the data region past that watermark. Delta.WriteTo streams a 12 byte header
	(rows, index bytes, data bytes, little-endian int32) followed by both tails to any io.Writer.

- Consumer (replica)
	A Consumer reads deltas from any io.Reader and stages their rows on the replica column.
	The rows become visible only when the exchange is committed; a failed exchange is rolled back.

- GRPCReplicationServer / GRPCReplicationClient
	The master serves deltas over a bidirectional gRPC stream. The replica sends its watermark,
	the master answers with a response frame and the delta as data frames, until nothing is left.

- Receiver
	Receiver is a loop running only on replica instances. It polls the master every interval,
	lists the columns matching its patterns and runs one exchange per column.
	Transport failures are retried with backoff.
*/
