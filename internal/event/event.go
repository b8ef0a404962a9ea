// Package event defines the canonical audit event record shared by the
// normalizer and all sinks.
package event

// Canonical field names. Events are sparse: a field that could not be
// resolved from the raw record is absent from the map rather than nil.
const (
	FieldID             = "id"
	FieldTimestamp      = "timestamp"
	FieldEventType      = "event_type"
	FieldOperation      = "operation"
	FieldStatus         = "status"
	FieldStatusDetail   = "status_detail"
	FieldUserID         = "user_id"
	FieldUserKey        = "user_key"
	FieldUserType       = "user_type"
	FieldOrganizationID = "organization_id"
	FieldIPAddress      = "ip_address"
	FieldWorkload       = "workload"
	FieldUserAgent      = "user_agent"
	FieldRequestType    = "request_type"
	FieldOS             = "os"
	FieldBrowser        = "browser"
	FieldSessionID      = "session_id"
	FieldApplicationID  = "application_id"
	FieldRecordType     = "record_type"
	FieldVersion        = "version"
	FieldErrorNumber    = "error_number"
	FieldAzureEventType = "azure_event_type"

	// FieldRawEvent holds the string form of a raw record that was not a
	// JSON object and could not be normalized field by field.
	FieldRawEvent = "raw_event"
)

// Event is one normalized audit record. The id field is always present and
// is the dedup key for every sink; timestamp is always present.
type Event map[string]any

// ID returns the dedup key of the event.
func (e Event) ID() string {
	id, _ := e[FieldID].(string)
	return id
}

// Timestamp returns the event time as produced by the normalizer.
func (e Event) Timestamp() string {
	ts, _ := e[FieldTimestamp].(string)
	return ts
}

// Has reports whether the field was resolved for this event.
func (e Event) Has(field string) bool {
	_, ok := e[field]
	return ok
}
