// Package normalizer flattens raw audit feed records into canonical events.
//
// The feed emits several inconsistent shapes for the same logical fields:
// capitalized vs lower-case key names, and values buried in the
// ExtendedProperties / DeviceProperties collections of {Name, Value} pairs.
// Each canonical field is resolved from an ordered list of candidate
// sources; the first present, non-null value wins. Zero values ("" / 0 /
// false) are preserved, only true absence drops a field.
package normalizer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zaphod7777/Phishfindr/internal/event"
)

const (
	fromTop = iota
	fromExtended
	fromDevice
)

type source struct {
	from int
	key  string
}

func top(key string) source      { return source{from: fromTop, key: key} }
func extended(key string) source { return source{from: fromExtended, key: key} }
func device(key string) source   { return source{from: fromDevice, key: key} }

type fieldSpec struct {
	field   string
	sources []source
}

// fieldTable maps each canonical field to its candidate sources, newest
// feed name first, then legacy and normalized alternates.
var fieldTable = []fieldSpec{
	{event.FieldID, []source{top("Id"), top("id")}},
	{event.FieldTimestamp, []source{top("CreationTime"), top("creation_time"), top("timestamp")}},
	{event.FieldEventType, []source{top("Operation"), top("operation")}},
	{event.FieldStatus, []source{top("ResultStatus"), top("status")}},
	{event.FieldStatusDetail, []source{top("ResultStatusDetail"), top("status_detail"), extended("ResultStatusDetail")}},
	{event.FieldUserID, []source{top("UserId"), top("user_id")}},
	{event.FieldUserKey, []source{top("UserKey"), top("user_key")}},
	{event.FieldUserType, []source{top("UserType"), top("user_type")}},
	{event.FieldOrganizationID, []source{top("OrganizationId"), top("organization_id")}},
	{event.FieldIPAddress, []source{top("ActorIpAddress"), top("ActorIp"), top("ClientIP"), top("client_ip"), top("ip_address")}},
	{event.FieldWorkload, []source{top("Workload"), top("workload")}},
	{event.FieldUserAgent, []source{top("UserAgent"), extended("UserAgent")}},
	{event.FieldRequestType, []source{top("RequestType"), extended("RequestType")}},
	{event.FieldOS, []source{device("OS"), device("os")}},
	{event.FieldBrowser, []source{device("BrowserType"), device("browser")}},
	{event.FieldSessionID, []source{device("SessionId"), top("SessionId")}},
	{event.FieldApplicationID, []source{top("ApplicationId"), top("application_id")}},
	{event.FieldRecordType, []source{top("RecordType"), top("record_type")}},
	{event.FieldVersion, []source{top("Version"), top("version")}},
	{event.FieldErrorNumber, []source{top("ErrorNumber"), top("error_number")}},
	{event.FieldAzureEventType, []source{top("AzureActiveDirectoryEventType"), top("azure_event_type")}},
}

// Normalize maps one raw feed record to a canonical event. It is total:
// malformed or non-object input still yields a deliverable record. The
// returned event always carries an id (synthesized when the source omits
// one) and a timestamp (normalization time when the source has none).
func Normalize(raw any) event.Event {
	m, ok := raw.(map[string]any)
	if !ok {
		return event.Event{
			event.FieldID:        uuid.NewString(),
			event.FieldTimestamp: time.Now().UTC().Format(time.RFC3339),
			event.FieldRawEvent:  stringify(raw),
		}
	}

	ext := m["ExtendedProperties"]
	dev := m["DeviceProperties"]

	out := make(event.Event, len(fieldTable)+1)
	for _, spec := range fieldTable {
		for _, src := range spec.sources {
			var v any
			switch src.from {
			case fromTop:
				if val, present := m[src.key]; present && val != nil {
					v = val
				}
			case fromExtended:
				v = propertyValue(ext, src.key)
			case fromDevice:
				v = propertyValue(dev, src.key)
			}
			if v != nil {
				out[spec.field] = v
				break
			}
		}
	}

	if id, present := out[event.FieldID]; present {
		out[event.FieldID] = stringify(id)
	} else {
		out[event.FieldID] = uuid.NewString()
	}

	if !out.Has(event.FieldTimestamp) {
		out[event.FieldTimestamp] = time.Now().UTC().Format(time.RFC3339)
	}

	// operation and event_type carry the same value under both names.
	if v, present := out[event.FieldEventType]; present {
		out[event.FieldOperation] = v
	}

	return out
}

// propertyValue searches an ExtendedProperties/DeviceProperties collection
// for a named value. The collection is either a plain object or a list of
// {Name, Value} pairs. Matching is case-sensitive and the first match wins.
func propertyValue(collection any, name string) any {
	switch c := collection.(type) {
	case map[string]any:
		if v, present := c[name]; present && v != nil {
			return v
		}
	case []any:
		for _, item := range c {
			pair, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if pair["Name"] == name {
				return pair["Value"]
			}
			if v, present := pair[name]; present && v != nil {
				return v
			}
		}
	}
	return nil
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case float64, bool, json.Number:
		return fmt.Sprintf("%v", s)
	default:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", v)
	}
}
