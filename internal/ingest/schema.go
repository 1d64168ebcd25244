package ingest

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// orderPayloadSchema is the JSON Schema both ingress paths (C8's
// new-job payload, C9's print request body) validate against before
// the bytes are unmarshaled into typed Go structs. Catching a
// malformed shape here gives the caller a precise {error, code}
// response instead of a generic "json: cannot unmarshal" message.
const orderPayloadSchema = `{
	"type": "object",
	"required": ["order_id", "items"],
	"properties": {
		"order_id": {"type": "string", "minLength": 1},
		"order_number": {"type": "string"},
		"type": {"type": "string", "enum": ["dine_in", "takeaway", "delivery", ""]},
		"table": {"type": "string"},
		"items": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "quantity"],
				"properties": {
					"menu_item_id": {"type": "string"},
					"name": {"type": "string", "minLength": 1},
					"quantity": {"type": "integer", "minimum": 1},
					"modifiers": {"type": "array", "items": {"type": "string"}},
					"note": {"type": "string"},
					"routing_group_id": {"type": "string"}
				}
			}
		}
	}
}`

var orderSchemaLoader = gojsonschema.NewStringLoader(orderPayloadSchema)

// ValidateOrderPayload checks raw against the documented order wire
// shape. A non-nil error's message lists every violation found, not
// just the first, so a malformed ingress request gets one useful
// response instead of a trial-and-error loop.
func ValidateOrderPayload(raw []byte) error {
	result, err := gojsonschema.Validate(orderSchemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("parsing order payload: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msg := "order payload failed validation:"
	for _, e := range result.Errors() {
		msg += " " + e.String() + ";"
	}
	return &ErrSchemaValidation{Message: msg}
}

// ErrSchemaValidation is returned when an inbound order payload
// doesn't conform to orderPayloadSchema.
type ErrSchemaValidation struct{ Message string }

func (e *ErrSchemaValidation) Error() string { return e.Message }
