package httpapi

import "encoding/json"

func marshalError(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
