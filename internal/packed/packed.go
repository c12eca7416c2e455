// Package packed implements the distributed-mode byte-blob transport:
// encoding/decoding the attributes, references, contexts and flow-graph
// sections an IdPacker Sink emits after rank 0 finishes the contexts
// wavefront, for an IdUnpacker Finalizer on every other rank to consume.
// The record-shaped sections (attributes, references) are Avro encoded via
// goavro; the context tree walk uses a hand-framed binary format because
// its sentinel-delimited shape is a literal positional requirement, not a
// schema-shaped record.
package packed

// sentinel closes a context subtree in the preorder walk encoding. Kept as
// a fixed literal so every rank's encode/decode round trip is bit-identical.
const sentinel uint64 = 0xFEF1F0F3 << 32
