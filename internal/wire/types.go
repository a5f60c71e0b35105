// Package wire implements the MongoDB wire protocol frame and per-opcode
// body codec: exact-length blocking reads, little-endian integers, and
// NUL-terminated UTF-8 c-strings. It knows nothing about autoresponders,
// matching, or queues — callers turn a Frame into a message.Request.
package wire

import "go.mongodb.org/mongo-driver/v2/bson"

// Opcode identifies the kind of a wire message.
type Opcode int32

const (
	OpReply       Opcode = 1
	OpUpdate      Opcode = 2001
	OpInsert      Opcode = 2002
	OpQuery       Opcode = 2004
	OpGetMore     Opcode = 2005
	OpDelete      Opcode = 2006
	OpKillCursors Opcode = 2007
	OpMsg         Opcode = 2013
)

func (o Opcode) String() string {
	switch o {
	case OpReply:
		return "OP_REPLY"
	case OpUpdate:
		return "OP_UPDATE"
	case OpInsert:
		return "OP_INSERT"
	case OpQuery:
		return "OP_QUERY"
	case OpGetMore:
		return "OP_GET_MORE"
	case OpDelete:
		return "OP_DELETE"
	case OpKillCursors:
		return "OP_KILL_CURSORS"
	case OpMsg:
		return "OP_MSG"
	default:
		return "OP_UNKNOWN"
	}
}

// Flag bit layouts, named per the legacy wire protocol spec. Apart from
// MsgFlagChecksumPresent, which parseOpMsg reads, the codec does not use
// them; they are exposed for scripts that build prototype requests or
// canned replies with specific bits set.
const (
	QueryFlagTailableCursor = 1 << 1
	QueryFlagSlaveOK        = 1 << 2
	QueryFlagOplogReplay    = 1 << 3
	QueryFlagNoTimeout      = 1 << 4
	QueryFlagAwaitData      = 1 << 5
	QueryFlagExhaust        = 1 << 6
	QueryFlagPartial        = 1 << 7

	UpdateFlagUpsert = 1 << 0
	UpdateFlagMulti  = 1 << 1

	InsertFlagContinueOnError = 1 << 0

	DeleteFlagSingleRemove = 1 << 0

	ReplyFlagCursorNotFound = 1 << 0
	ReplyFlagQueryFailure   = 1 << 1

	MsgFlagChecksumPresent = uint32(1) << 0
	MsgFlagMoreToCome      = uint32(1) << 1
	MsgFlagExhaustAllowed  = uint32(1) << 16
)

// SectionKind identifies an OP_MSG section kind.
type SectionKind byte

const (
	SectionBody   SectionKind = 0
	SectionDocSeq SectionKind = 1
)

// Header is the 16-byte frame header common to every opcode.
type Header struct {
	MessageLength int32
	RequestID     int32
	ResponseTo    int32
	OpCode        int32
}

// Section is one OP_MSG section: a single document (kind 0) or a named
// document sequence (kind 1).
type Section struct {
	Kind       SectionKind
	Body       bson.Raw
	Identifier string
	Documents  []bson.Raw
}

// Frame is the parsed, opcode-specific body of an inbound message, with
// the header attached. Exactly one of the typed fields is populated,
// matching Header.OpCode.
type Frame struct {
	Header Header

	// OP_QUERY
	QueryFlags           int32
	FullCollectionName   string
	NumberToSkip         int32
	NumberToReturn       int32
	Query                bson.Raw
	ReturnFieldsSelector bson.Raw // optional, nil if absent

	// OP_GET_MORE
	GetMoreNamespace string
	CursorID         int64

	// OP_KILL_CURSORS
	CursorIDs []int64

	// OP_INSERT / OP_UPDATE / OP_DELETE (legacy writes)
	WriteFlags int32
	WriteNS    string
	WriteDocs  []bson.Raw

	// OP_MSG
	FlagBits uint32
	Sections []Section
	Checksum *uint32
}
