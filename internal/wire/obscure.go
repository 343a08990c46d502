package wire

// passwordKey is the fixed key of the reversible password transform.
var passwordKey = []byte("z9xm89c+")

// Obscure applies the byte transform to a password, in a fresh slice. The
// transform is its own inverse: the client applies it before sending and the
// server applies it again on receipt, so passwords cross the network obscured
// and the domain layer only ever sees the original bytes.
func Obscure(password []byte) []byte {
	out := make([]byte, len(password))
	for i, b := range password {
		out[i] = b ^ passwordKey[i%len(passwordKey)]
	}
	return out
}
