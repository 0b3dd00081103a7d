package channel

import (
	"fmt"

	"trustline/internal/codec"
	"trustline/internal/domain"
)

// EncodePlaintext frames content as List(Int(kind), content).
func EncodePlaintext(kind domain.PayloadKind, content codec.Encoded) []byte {
	return codec.List(codec.Int(int64(kind)), content).Raw()
}

// DecodePlaintext splits a decrypted frame into its kind and content.
func DecodePlaintext(b []byte) (domain.PayloadKind, codec.Encoded, error) {
	e, err := codec.ParsePadded(b)
	if err != nil {
		return 0, codec.Encoded{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	items, err := e.ListOf(2)
	if err != nil {
		return 0, codec.Encoded{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	kind, err := items[0].AsInt()
	if err != nil {
		return 0, codec.Encoded{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch domain.PayloadKind(kind) {
	case domain.PayloadApplication, domain.PayloadProtocol:
		return domain.PayloadKind(kind), items[1], nil
	default:
		return 0, codec.Encoded{}, fmt.Errorf("%w: payload kind %d", ErrMalformed, kind)
	}
}
