package jsonx

import jsoniter "github.com/json-iterator/go"

var jsonx = jsoniter.ConfigCompatibleWithStandardLibrary

func Marshal(v interface{}) ([]byte, error) {
	return jsonx.Marshal(v)
}

// MarshalIndent is used for files an operator may read by hand (WAL, certificates).
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return jsonx.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v interface{}) error {
	return jsonx.Unmarshal(data, v)
}
