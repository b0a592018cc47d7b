package thingshadow

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// DefaultMaxDocumentSize bounds documents built without an explicit size.
const DefaultMaxDocumentSize = 512

type docEntry struct {
	key   string
	value json.RawMessage
}

// Document builds a shadow update document:
//
//	{"state":{"reported":{...},"desired":{...}},"clientToken":"..."}
//
// Values are captured when fields are added. Keys keep insertion order and a
// repeated key replaces the earlier value in place.
type Document struct {
	maxSize  int
	reported []docEntry
	desired  []docEntry
	token    string
	final    bool
}

// NewDocument starts a document limited to maxSize encoded bytes.
// A non-positive maxSize selects DefaultMaxDocumentSize.
func NewDocument(maxSize int) *Document {
	if maxSize <= 0 {
		maxSize = DefaultMaxDocumentSize
	}
	return &Document{maxSize: maxSize}
}

// AddReported captures the current values of fields into the reported section.
func (d *Document) AddReported(fields ...*Field) error {
	entries, err := d.add(d.reported, fields)
	if err != nil {
		return err
	}
	d.reported = entries
	return nil
}

// AddDesired captures the current values of fields into the desired section.
func (d *Document) AddDesired(fields ...*Field) error {
	entries, err := d.add(d.desired, fields)
	if err != nil {
		return err
	}
	d.desired = entries
	return nil
}

func (d *Document) add(entries []docEntry, fields []*Field) ([]docEntry, error) {
	if d.final {
		return nil, ErrDocumentFinal
	}

	for _, f := range fields {
		if err := f.validate(); err != nil {
			return nil, err
		}
		if f.Value == nil {
			return nil, fmt.Errorf("%w: %s has no value source", ErrInvalidField, f.Key)
		}

		raw, err := json.Marshal(f.Value())
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", f.Key, err)
		}
		if !f.Accepts(raw) {
			return nil, fmt.Errorf("%w: %s value %s is not %s", ErrInvalidField, f.Key, raw, f.Type)
		}

		entries = upsertEntry(entries, docEntry{key: f.Key, value: raw})
	}

	return entries, nil
}

func upsertEntry(entries []docEntry, e docEntry) []docEntry {
	for i := range entries {
		if entries[i].key == e.key {
			entries[i].value = e.value
			return entries
		}
	}
	return append(entries, e)
}

// Finalize appends a fresh clientToken and returns the encoded document.
// It fails with ErrDocumentTooLarge when the result exceeds the size limit.
func (d *Document) Finalize() ([]byte, error) {
	if d.final {
		return nil, ErrDocumentFinal
	}

	token := uuid.NewString()

	var buf bytes.Buffer
	buf.WriteString(`{"state":{`)
	if len(d.reported) > 0 {
		writeSection(&buf, "reported", d.reported)
	}
	if len(d.desired) > 0 {
		if len(d.reported) > 0 {
			buf.WriteByte(',')
		}
		writeSection(&buf, "desired", d.desired)
	}
	buf.WriteString(`},"clientToken":`)
	writeJSONString(&buf, token)
	buf.WriteByte('}')

	if buf.Len() > d.maxSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrDocumentTooLarge, buf.Len(), d.maxSize)
	}

	d.token = token
	d.final = true

	return buf.Bytes(), nil
}

// ClientToken returns the token assigned by Finalize.
func (d *Document) ClientToken() string {
	return d.token
}

func writeSection(buf *bytes.Buffer, name string, entries []docEntry) {
	writeJSONString(buf, name)
	buf.WriteString(":{")
	for i, e := range entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSONString(buf, e.key)
		buf.WriteByte(':')
		buf.Write(e.value)
	}
	buf.WriteByte('}')
}

func writeJSONString(buf *bytes.Buffer, s string) {
	raw, _ := json.Marshal(s)
	buf.Write(raw)
}

// responseHeader holds the fields common to accepted, rejected and delta documents.
type responseHeader struct {
	ClientToken string `json:"clientToken"`
	Version     uint64 `json:"version"`
	Code        int    `json:"code"`
	Message     string `json:"message"`
}

func (h *responseHeader) rejected(thingName string, action Action) *RejectedError {
	return &RejectedError{
		ThingName:   thingName,
		Action:      action,
		ClientToken: h.ClientToken,
		Code:        h.Code,
		Message:     h.Message,
	}
}

// ParseRejected decodes the error document delivered with AckRejected.
func ParseRejected(thingName string, action Action, document []byte) (*RejectedError, error) {
	var hdr responseHeader
	if err := json.Unmarshal(document, &hdr); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return hdr.rejected(thingName, action), nil
}

// tokenDocument is the body of a get or delete request.
func tokenDocument(token string) ([]byte, error) {
	return json.Marshal(struct {
		ClientToken string `json:"clientToken"`
	}{token})
}

// documentToken extracts the clientToken of an outgoing request document.
func documentToken(doc []byte) (string, error) {
	var hdr responseHeader
	if err := json.Unmarshal(doc, &hdr); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if hdr.ClientToken == "" {
		return "", ErrMissingToken
	}
	return hdr.ClientToken, nil
}

// deltaDocument is the payload of an update/delta message.
type deltaDocument struct {
	Version uint64                     `json:"version"`
	State   map[string]json.RawMessage `json:"state"`
}

// StateDocument is the payload of a get/accepted or update/accepted message.
type StateDocument struct {
	State struct {
		Desired  map[string]json.RawMessage `json:"desired,omitempty"`
		Reported map[string]json.RawMessage `json:"reported,omitempty"`
		Delta    map[string]json.RawMessage `json:"delta,omitempty"`
	} `json:"state"`
	Version     uint64 `json:"version"`
	Timestamp   int64  `json:"timestamp"`
	ClientToken string `json:"clientToken,omitempty"`
}

// ParseStateDocument decodes a full shadow document as delivered on get/accepted.
func ParseStateDocument(doc []byte) (*StateDocument, error) {
	var sd StateDocument
	if err := json.Unmarshal(doc, &sd); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return &sd, nil
}
