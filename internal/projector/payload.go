package projector

import "encoding/json"

// unmarshal decodes raw into v, logging nothing on failure: a
// malformed payload is treated as "this entry contributes nothing to
// the view" rather than a fatal replay error, since the ledger is the
// source of truth and the projector must never refuse to start.
func unmarshal(raw json.RawMessage, v any) bool {
	return json.Unmarshal(raw, v) == nil
}
