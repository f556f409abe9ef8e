package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Event is a single timestamped activity record produced by an agent
// against one contract. It is the canonical shape used by every view.
type Event struct {
	ID           string    `json:"id"`
	ContractID   string    `json:"contract_id"`
	Timestamp    time.Time `json:"timestamp"`
	RawTimestamp string    `json:"raw_timestamp,omitempty"` // set when the wire timestamp could not be parsed
	Agent        AgentKind `json:"agent"`
	AgentLabel   string    `json:"agent_label"`
	Action       string    `json:"action"`
}

// wireEvent is the union of every event shape the backend has emitted:
//
//	legacy:    {_id, contract, date, time, agent, action}
//	current:   {_id, created_at, agent, action}
//	store:     {_id, smart_contract_id, agent_id, created_at, action}
//	canonical: {id, contract_id, timestamp, agent, agent_label, action}
//	           (plus the rendered date, clock and icon, which are ignored)
type wireEvent struct {
	ID              string          `json:"id"`
	MongoID         json.RawMessage `json:"_id"`
	ContractID      string          `json:"contract_id"`
	Contract        json.RawMessage `json:"contract"`
	SmartContractID json.RawMessage `json:"smart_contract_id"`
	Date            string          `json:"date"`
	Time            string          `json:"time"`
	CreatedAt       json.RawMessage `json:"created_at"`
	Timestamp       json.RawMessage `json:"timestamp"`
	RawTimestamp    string          `json:"raw_timestamp"`
	Agent           string          `json:"agent"`
	AgentID         string          `json:"agent_id"`
	AgentLabel      string          `json:"agent_label"`
	Action          string          `json:"action"`
}

// UnmarshalJSON decodes any known wire variant into the canonical shape.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = w.canonical()
	return nil
}

// DecodeEvents decodes a JSON array of events and fills in contractID for
// events whose wire shape does not carry it.
func DecodeEvents(data []byte, contractID string) ([]Event, error) {
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("failed to decode events: %w", err)
	}
	for i := range events {
		if events[i].ContractID == "" {
			events[i].ContractID = contractID
		}
	}
	return events, nil
}

func (w wireEvent) canonical() Event {
	label := firstNonEmpty(w.AgentLabel, w.Agent, w.AgentID)
	kind := ParseAgentKind(firstNonEmpty(w.Agent, w.AgentID))
	if kind == AgentUnknown && w.AgentLabel != "" {
		kind = ParseAgentKind(w.AgentLabel)
	}

	ev := Event{
		ID:         firstNonEmpty(w.ID, parseID(w.MongoID)),
		ContractID: firstNonEmpty(w.ContractID, parseID(w.Contract), parseID(w.SmartContractID)),
		Agent:      kind,
		AgentLabel: label,
		Action:     w.Action,
	}

	switch {
	case hasValue(w.Timestamp):
		ev.Timestamp, ev.RawTimestamp = parseRawTimestamp(w.Timestamp)
	case hasValue(w.CreatedAt):
		ev.Timestamp, ev.RawTimestamp = parseRawTimestamp(w.CreatedAt)
	case w.Date != "" || w.Time != "":
		ev.Timestamp, ev.RawTimestamp = parseDateTime(w.Date, w.Time)
	}
	if ev.Timestamp.IsZero() && ev.RawTimestamp == "" {
		ev.RawTimestamp = w.RawTimestamp
	}
	return ev
}

// Date renders the event's calendar date for tables.
func (e Event) Date() string {
	if e.Timestamp.IsZero() {
		return e.RawTimestamp
	}
	return e.Timestamp.Format("01/02/2006")
}

// Clock renders the event's time of day for tables.
func (e Event) Clock() string {
	if e.Timestamp.IsZero() {
		return ""
	}
	return e.Timestamp.Format("15:04:05")
}

// Icon returns the presentation token of the event's agent.
func (e Event) Icon() Icon {
	return e.Agent.Icon()
}

// MarshalJSON writes the canonical shape plus the rendered date, clock and
// icon, so clients show the same cells the server-rendered tables do.
func (e Event) MarshalJSON() ([]byte, error) {
	type canonical Event
	return json.Marshal(struct {
		canonical
		Date  string `json:"date"`
		Clock string `json:"clock"`
		Icon  Icon   `json:"icon"`
	}{canonical: canonical(e), Date: e.Date(), Clock: e.Clock(), Icon: e.Icon()})
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123,
	time.RFC1123Z,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

var dateLayouts = []string{"01/02/2006", "1/2/2006", "2006-01-02", "01/02/06"}

var clockLayouts = []string{"15:04:05", "15:04", "3:04 PM", "3:04PM", "3:04:05 PM"}

func hasValue(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// parseID accepts a JSON string, a number, or a Mongo extended-JSON
// {"$oid": ...} object.
func parseID(raw json.RawMessage) string {
	if !hasValue(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	var ext struct {
		OID string `json:"$oid"`
	}
	if err := json.Unmarshal(raw, &ext); err == nil {
		return ext.OID
	}
	return ""
}

// parseRawTimestamp accepts a JSON string, a unix-millisecond number, or a
// Mongo extended-JSON {"$date": ...} object.
func parseRawTimestamp(raw json.RawMessage) (time.Time, string) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ParseTimestamp(s)
	}

	var ms json.Number
	if err := json.Unmarshal(raw, &ms); err == nil {
		if n, err := ms.Int64(); err == nil {
			return time.UnixMilli(n).UTC(), ""
		}
	}

	var ext struct {
		Date json.RawMessage `json:"$date"`
	}
	if err := json.Unmarshal(raw, &ext); err == nil && hasValue(ext.Date) {
		return parseRawTimestamp(ext.Date)
	}

	return time.Time{}, string(raw)
}

// ParseTimestamp parses a single-instant timestamp string. When no known
// layout matches it returns the zero time and the input as raw text.
func ParseTimestamp(s string) (time.Time, string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ""
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), ""
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(n).UTC(), ""
	}
	return time.Time{}, s
}

func parseDateTime(date, clock string) (time.Time, string) {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	raw := strings.TrimSpace(date + " " + clock)

	day, ok := parseFirst(dateLayouts, date)
	if !ok {
		return time.Time{}, raw
	}
	if clock == "" {
		return day, ""
	}
	tod, ok := parseFirst(clockLayouts, clock)
	if !ok {
		return time.Time{}, raw
	}
	return day.Add(time.Duration(tod.Hour())*time.Hour +
		time.Duration(tod.Minute())*time.Minute +
		time.Duration(tod.Second())*time.Second), ""
}

func parseFirst(layouts []string, value string) (time.Time, bool) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
