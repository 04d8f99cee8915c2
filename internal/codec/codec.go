// Package codec holds the CBOR configuration shared by everything that
// produces or consumes signed bytes: the signature payload envelope, the
// prefixed verifier's signature data and policy install parameters.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2) so that the same
// logical value always yields the same bytes. A signer and the evaluator
// must agree on the payload byte-for-byte.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	opts := cbor.CoreDetEncOptions()
	// id.ID and friends carry unexported state; encode them as their text form.
	opts.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = opts.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is a raw encoded CBOR value.
type RawMessage = cbor.RawMessage

// Diagnose returns the CBOR diagnostic notation for data. Useful in test
// failure output when two encodings disagree.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
