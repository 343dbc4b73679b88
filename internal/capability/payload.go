package capability

import "encoding/json"

func unmarshalPayload(raw json.RawMessage, v any) error {
	return json.Unmarshal(raw, v)
}
