package dwn

import (
	"context"
	"fmt"
	"time"
)

// Interface names the DWN interface a message targets.
type Interface string

// Method names the operation within an Interface.
type Method string

const (
	InterfaceRecords  Interface = "Records"
	InterfaceMessages Interface = "Messages"

	MethodWrite  Method = "Write"
	MethodRead   Method = "Read"
	MethodQuery  Method = "Query"
	MethodDelete Method = "Delete"
)

// MessageType is the "Interface.Method" pair used by request mapping.
type MessageType string

const (
	RecordsWrite  MessageType = "RecordsWrite"
	RecordsRead   MessageType = "RecordsRead"
	RecordsQuery  MessageType = "RecordsQuery"
	RecordsDelete MessageType = "RecordsDelete"
	MessagesQuery MessageType = "MessagesQuery"
	MessagesRead  MessageType = "MessagesRead"
)

// Split returns the interface and method of a message type.
func (t MessageType) Split() (Interface, Method, error) {
	switch t {
	case RecordsWrite:
		return InterfaceRecords, MethodWrite, nil
	case RecordsRead:
		return InterfaceRecords, MethodRead, nil
	case RecordsQuery:
		return InterfaceRecords, MethodQuery, nil
	case RecordsDelete:
		return InterfaceRecords, MethodDelete, nil
	case MessagesQuery:
		return InterfaceMessages, MethodQuery, nil
	case MessagesRead:
		return InterfaceMessages, MethodRead, nil
	default:
		return "", "", fmt.Errorf("unknown message type %q", t)
	}
}

// MaxInlineDataSize is the largest record payload, in bytes, that a node
// inlines as encodedData in read and query replies. Larger payloads must be
// fetched with a separate Records.Read.
const MaxInlineDataSize = 30000

// TimestampFormat is the layout of Descriptor.MessageTimestamp.
// Microsecond precision in UTC keeps timestamps lexically ordered.
const TimestampFormat = "2006-01-02T15:04:05.000000Z"

// Timestamp formats t as a message timestamp.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// Filter narrows Records.Query and Messages.Query results.
type Filter struct {
	Protocol    string   `json:"protocol,omitempty"`
	Schema      string   `json:"schema,omitempty"`
	DataFormat  string   `json:"dataFormat,omitempty"`
	RecordID    string   `json:"recordId,omitempty"`
	MessageCIDs []string `json:"messageCids,omitempty"`
}

// IsEmpty reports whether the filter has no constraints.
func (f *Filter) IsEmpty() bool {
	return f == nil || (f.Protocol == "" && f.Schema == "" && f.DataFormat == "" &&
		f.RecordID == "" && len(f.MessageCIDs) == 0)
}

// Descriptor is the signed, content-addressed part of a message.
type Descriptor struct {
	Interface        Interface `json:"interface"`
	Method           Method    `json:"method"`
	MessageTimestamp string    `json:"messageTimestamp"`
	RecordID         string    `json:"recordId,omitempty"`
	Protocol         string    `json:"protocol,omitempty"`
	Schema           string    `json:"schema,omitempty"`
	DataFormat       string    `json:"dataFormat,omitempty"`
	DataCID          string    `json:"dataCid,omitempty"`
	DataSize         int64     `json:"dataSize,omitempty"`
	MessageCID       string    `json:"messageCid,omitempty"`
	Cursor           string    `json:"cursor,omitempty"`
	Limit            int64     `json:"limit,omitempty"`
	Filter           *Filter   `json:"filter,omitempty"`
}

// Type returns the MessageType of the descriptor.
func (d Descriptor) Type() MessageType {
	return MessageType(string(d.Interface) + string(d.Method))
}

// Message is a DWN protocol message.
//
// Authorization is a compact JWS produced by the author's signer.
// EncodedData carries the record payload inline when the payload is small
// enough; it is excluded from the message CID.
type Message struct {
	Descriptor    Descriptor `json:"descriptor"`
	Authorization string     `json:"authorization,omitempty"`
	EncodedData   []byte     `json:"encodedData,omitempty"`
}

// IsRecordsWrite reports whether the message is a Records.Write.
func (m *Message) IsRecordsWrite() bool {
	return m != nil && m.Descriptor.Interface == InterfaceRecords && m.Descriptor.Method == MethodWrite
}

// HasData reports whether the message references a data payload.
func (m *Message) HasData() bool {
	return m.IsRecordsWrite() && m.Descriptor.DataCID != ""
}

// WithoutData returns a shallow copy of the message with EncodedData removed.
func (m *Message) WithoutData() *Message {
	c := *m
	c.EncodedData = nil
	return &c
}

// Status codes returned by message processors.
const (
	StatusOK         = 200
	StatusAccepted   = 202
	StatusBadRequest = 400
	StatusUnauth     = 401
	StatusNotFound   = 404
	StatusConflict   = 409
	StatusInternal   = 500
)

// Status is the application-level outcome of processing a message.
type Status struct {
	Code   int    `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// EventEntry is one element of a node's event log.
type EventEntry struct {
	MessageCID string `json:"messageCid"`
	Watermark  string `json:"watermark"`
}

// MessageEntry is the result of a Messages.Read.
type MessageEntry struct {
	MessageCID string   `json:"messageCid"`
	Message    *Message `json:"message"`
}

// Record is the result of a Records.Read: the latest write and its payload.
type Record struct {
	Message *Message `json:"message"`
	Data    []byte   `json:"data,omitempty"`
}

// Reply is returned by a message processor for every message.
//
// Which fields are populated depends on the message type:
//   - Messages.Query: Events, and Cursor when another page may exist
//   - Messages.Read: Entry
//   - Records.Read: Record
//   - Records.Query: Entries
type Reply struct {
	Status  Status        `json:"status"`
	Events  []EventEntry  `json:"events,omitempty"`
	Entry   *MessageEntry `json:"entry,omitempty"`
	Record  *Record       `json:"record,omitempty"`
	Entries []*Message    `json:"entries,omitempty"`
	Cursor  string        `json:"cursor,omitempty"`
}

// NewReply creates a reply with only a status.
func NewReply(code int, detail string) *Reply {
	return &Reply{Status: Status{Code: code, Detail: detail}}
}

// Errorf creates a reply with a formatted status detail.
func Errorf(code int, format string, args ...any) *Reply {
	return NewReply(code, fmt.Sprintf(format, args...))
}

// OK reports whether the reply status is 200 or 202.
func (r *Reply) OK() bool {
	return r != nil && (r.Status.Code == StatusOK || r.Status.Code == StatusAccepted)
}

// Processor applies messages to a node on behalf of a tenant.
//
// Processing never fails with a Go error for application-level outcomes;
// those are reported through Reply.Status. A returned error means the
// processor itself could not run (storage failure, cancelled context).
type Processor interface {
	ProcessMessage(ctx context.Context, tenant string, msg *Message, data []byte) (*Reply, error)
}

// Request is the agent-level mapping of a message to process.
//
// Either Message (already built and signed, as when replaying a message from
// another replica) or Options (a descriptor to build and sign as Author) must
// be set.
type Request struct {
	Author      string
	Target      string
	MessageType MessageType
	Message     *Message
	Options     *Descriptor
	Data        []byte
}

// Response pairs the processed message with the node's reply.
type Response struct {
	Message *Message
	Reply   *Reply
}
