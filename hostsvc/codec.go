package hostsvc

import "encoding/json"

// jsonCodec marshals plain Go structs as JSON. connect-go's built-in "json"
// codec is tied to protobuf messages via protojson; this repo has no .proto
// sources, so every handler and client in this package registers jsonCodec
// under the same "json" name to replace it, the way the package's own
// request/response structs (not generated stubs) are meant to travel.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
