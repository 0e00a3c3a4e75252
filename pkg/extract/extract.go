// Package extract pulls a fixed set of optional fields out of response bodies
// whose shape is not trusted. Every input, however malformed, yields a Fields
// value; nothing in this package returns an error or panics.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// Keys of the extracted fields as they appear in merged records.
const (
	KeyMainDisposition = "main_disposition"
	KeySubDisposition  = "sub_disposition"
	KeyUpdatedAt       = "updated_at"
	KeyMobileNumber    = "mobile_number"
)

// Source paths inside the response document.
const (
	fieldMobileNumber     = "mobile_number"
	fieldConversationTime = "conversation_time"
	fieldExtraction       = "extraction"
	fieldExtractedData    = "extracted_data"
	fieldMainDisposition  = "main_disposition"
	fieldSubDisposition   = "sub_disposition"
)

// Fields holds the extracted values. A nil field is absent.
// Values keep their decoded JSON type (string, json.Number, bool, map, slice).
type Fields struct {
	MainDisposition any
	SubDisposition  any
	UpdatedAt       any
	MobileNumber    any
}

// Empty reports whether every field is absent.
func (f Fields) Empty() bool {
	return f.MainDisposition == nil && f.SubDisposition == nil &&
		f.UpdatedAt == nil && f.MobileNumber == nil
}

// Get returns the field stored under one of the Key constants.
func (f Fields) Get(key string) (any, bool) {
	switch key {
	case KeyMainDisposition:
		return f.MainDisposition, true
	case KeySubDisposition:
		return f.SubDisposition, true
	case KeyUpdatedAt:
		return f.UpdatedAt, true
	case KeyMobileNumber:
		return f.MobileNumber, true
	default:
		return nil, false
	}
}

// Keys returns the field keys in presentation order.
func Keys() []string {
	return []string{KeyMainDisposition, KeySubDisposition, KeyUpdatedAt, KeyMobileNumber}
}

// Extract reads Fields from body. body may be a JSON document as string,
// []byte or json.RawMessage, an already decoded map[string]any, or anything
// else; every shape other than a JSON object yields all-absent Fields.
func Extract(body any) Fields {
	doc, ok := resolve(body)
	if !ok {
		return Fields{}
	}

	fields := Fields{
		MobileNumber: doc[fieldMobileNumber],
		UpdatedAt:    doc[fieldConversationTime],
	}

	extraction, ok := doc[fieldExtraction].(map[string]any)
	if !ok {
		return fields
	}
	data, ok := extraction[fieldExtractedData].(map[string]any)
	if !ok {
		return fields
	}

	fields.MainDisposition = data[fieldMainDisposition]
	fields.SubDisposition = data[fieldSubDisposition]
	return fields
}

// resolve turns the accepted input shapes into a JSON object.
func resolve(body any) (map[string]any, bool) {
	switch v := body.(type) {
	case map[string]any:
		return v, v != nil
	case string:
		return decodeObject([]byte(v))
	case []byte:
		return decodeObject(v)
	case json.RawMessage:
		return decodeObject(v)
	default:
		return nil, false
	}
}

func decodeObject(raw []byte) (map[string]any, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || strings.EqualFold(string(raw), "nan") {
		return nil, false
	}

	v, err := decode(raw)
	if err != nil {
		return nil, false
	}
	doc, ok := v.(map[string]any)
	if !ok || doc == nil {
		return nil, false
	}
	return doc, true
}

// decode parses exactly one JSON value, keeping numbers as json.Number.
func decode(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

// Canonicalize re-serializes a JSON document in compact form with sorted
// object keys. It reports false when raw is not a single JSON value.
func Canonicalize(raw []byte) (string, bool) {
	v, err := decode(raw)
	if err != nil {
		return "", false
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", false
	}
	return strings.TrimSuffix(buf.String(), "\n"), true
}
