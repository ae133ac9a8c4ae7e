package store

// stringCodec and intKeyCodec are minimal Codec/KeyCodec implementations
// shared by this package's view tests; production codecs live in pkg/wire.

type stringCodec struct{}

func (stringCodec) Marshal(v string) ([]byte, error)    { return []byte(v), nil }
func (stringCodec) Unmarshal(b []byte) (string, error) { return string(b), nil }

type stringKeyCodec struct{}

func (stringKeyCodec) Encode(k string) []byte          { return []byte(k) }
func (stringKeyCodec) Decode(b []byte) (string, error) { return string(b), nil }
