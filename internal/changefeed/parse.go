package changefeed

import "encoding/json"

// changePayload is the postgres_changes payload. Every field is optional.
type changePayload struct {
	Data *struct {
		Table     string         `json:"table"`
		Type      string         `json:"type"`
		Record    map[string]any `json:"record"`
		OldRecord map[string]any `json:"old_record"`
	} `json:"data"`

	// flat form used by pg_notify triggers
	Table     string         `json:"table"`
	Type      string         `json:"type"`
	Record    map[string]any `json:"record"`
	OldRecord map[string]any `json:"old_record"`
}

// parseChange decodes an untrusted change payload. Only the table name is
// required; unknown types become EventUnknown and missing records stay nil.
func parseChange(raw []byte) (Event, bool) {
	var p changePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Event{}, false
	}

	e := Event{
		Collection: p.Table,
		Type:       ParseEventType(p.Type),
		Record:     p.Record,
		OldRecord:  p.OldRecord,
	}
	if p.Data != nil {
		e = Event{
			Collection: p.Data.Table,
			Type:       ParseEventType(p.Data.Type),
			Record:     p.Data.Record,
			OldRecord:  p.Data.OldRecord,
		}
	}
	if e.Collection == "" {
		return Event{}, false
	}
	return e, true
}
