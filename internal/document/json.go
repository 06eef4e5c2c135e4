package document

import "encoding/json"

// marshalJSON/unmarshalJSON centralize the (de)serialization step that
// precedes/follows canonicalization, mirroring the thin json.go helper the
// containers/image signature package used around its own envelope types.
func marshalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalJSON(raw []byte, v interface{}) error {
	return json.Unmarshal(raw, v)
}
