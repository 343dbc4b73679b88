package kernel

import (
	"encoding/json"

	"github.com/cuemby/sentinel/internal/ledger"
)

func unmarshalEntry(e ledger.Entry, v any) error {
	return json.Unmarshal(e.Payload, v)
}
