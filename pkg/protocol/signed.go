package protocol

// SignedItem is an item carrying a detachable signature over its own fields.
//
// SignedFields must return the same descriptors as Fields, in the same order,
// with the signature left out. Items usually build both from one helper taking
// an includeSignature flag.
type SignedItem interface {
	Item
	SignedFields() []Field
}

// SignedSize returns the frame size of the signed subset, header included
func SignedSize(it SignedItem) int {
	return HeaderSize + measure(it.SignedFields())
}

// SerializeForSignature encodes the signed subset into a fresh frame whose
// header size equals SignedSize. These are the bytes that get signed when the
// item is created and re-derived when it is verified, so they never depend on
// the signature currently held.
func SerializeForSignature(it SignedItem) ([]byte, error) {
	return encodeFrame(it, it.SignedFields())
}
