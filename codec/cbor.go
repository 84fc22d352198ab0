package codec

import (
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/tamirms/readset/internal/encoding"
)

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2), so equal
// elements always encode to identical bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBOR stores arbitrary structured elements as length-prefixed CBOR items.
//
// The length prefix lets Decode stop at the element boundary; a streaming
// CBOR decoder would read ahead into the next element.
type CBOR[K any] struct{}

func (CBOR[K]) Encode(w io.Writer, v K) error {
	b, err := encMode.Marshal(v)
	if err != nil {
		return err
	}
	return encoding.WriteBlob(w, b)
}

func (CBOR[K]) Decode(r io.Reader, v *K) error {
	b, err := encoding.ReadBlob(r)
	if err != nil {
		return err
	}
	return decMode.Unmarshal(b, v)
}
