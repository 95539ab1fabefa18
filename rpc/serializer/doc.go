// Package serializer turns common.Message values into bytes and back for the RPC
// transports. All implementations share the IRPCSerializer interface, so client and
// server only have to agree on the name of the format.
//
// Implementations:
//
//   - Binary: Flag based layout on top of the codec package. Only present fields are
//     written, integers use the VUInt encoding and byte slices keep the difference
//     between nil and empty (a missing value and an empty value are not the same thing
//     for Get). Smallest payload and fastest of the four.
//
//   - CBOR: RFC 8949 with integer map keys (fxamacker/cbor). Compact and readable by
//     non Go clients.
//
//   - JSON: Human readable, useful for debugging with the http transport.
//
//   - GOB: Go's gob encoding. Kept for comparison, it is slower and larger than the rest.
//
// Only the binary format preserves empty byte slices. The other formats drop empty
// fields and decode them as nil.
//
// Thread Safety:
//
//	All serializers are safe for concurrent use. The binary serializer pools its
//	write buffers and returns a fresh slice from every Serialize call.
//
// Usage:
//
//	s := serializer.NewBinarySerializer()
//	data, err := s.Serialize(*common.NewGetRequest(store.AutoCommit, []byte("key")))
//	// ... send data ...
//	var resp common.Message
//	err = s.Deserialize(received, &resp)
package serializer
