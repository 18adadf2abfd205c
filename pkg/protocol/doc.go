// Package protocol implements the binary wire codec used by ZenTalk distant chat.
//
// Every item exchanged over a distant-chat tunnel, and every record written to a
// checkpoint file, is encoded as a self-delimited frame.
//
// # Frame Format
//
// Every frame starts with an 8-byte header:
//   - Service (2 bytes): protocol family (0x0012 for chat)
//   - Subtype (1 byte): concrete item kind
//   - Version (1 byte): packet version (0x02)
//   - Size (4 bytes): length of the whole frame, header included
//
// All integers are big-endian. Variable-length fields are TLV encoded:
//   - Tag (2 bytes): payload kind (string name, string message, binary image...)
//   - Length (4 bytes): length of the TLV unit, including these 6 bytes
//   - Payload
//
// Identifiers (peer ids, identity ids, hashes) are fixed width and written raw.
// Raw memory blocks (avatar images) carry a 4-byte length and no tag.
//
// # Field Descriptions
//
// Items do not hand-write their encoders. Each item returns an ordered list of
// Field descriptors pointing into its own struct, and the same list is run by
// Process under one of three jobs:
//
//	fields := msg.Fields()
//	Process(JobSizeEstimate, ctx, fields) // counts bytes
//	Process(JobSerialize, ctx, fields)    // writes bytes
//	Process(JobDeserialize, ctx, fields)  // reads bytes back into msg
//
// Because size and write walk the same list, the header size can never disagree
// with the bytes actually produced.
//
// Items carrying a detachable signature also implement SignedItem. Their
// SignedFields list is the full list minus the signature, and
// SerializeForSignature produces the exact bytes that get signed and verified.
//
// # Decoding
//
// A Registry maps (service, subtype) to a constructor. Registry.Deserialize
// reads the header, builds an empty item, runs the read job bounded by the
// declared size and requires the cursor to land exactly on it. Every length
// read from the wire is checked against the remaining bytes before anything
// is allocated.
package protocol
