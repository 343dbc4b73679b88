package commit

import "encoding/json"

func unmarshal(raw json.RawMessage, v any) error {
	return json.Unmarshal(raw, v)
}
