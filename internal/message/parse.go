package message

import (
	"strings"

	"github.com/mockupdb/mockupdb/internal/mockerr"
	"github.com/mockupdb/mockupdb/internal/wire"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// FromFrame builds a typed Request from a parsed wire.Frame, performing the
// OP_QUERY-to-Command promotion and the OP_MSG $db extraction described in
// spec.md §4.A.
func FromFrame(f wire.Frame) (*Request, error) {
	switch wire.Opcode(f.Header.OpCode) {
	case wire.OpQuery:
		return fromOpQuery(f)
	case wire.OpGetMore:
		return fromOpGetMore(f), nil
	case wire.OpKillCursors:
		return fromOpKillCursors(f), nil
	case wire.OpInsert:
		return fromLegacyWrite(f, KindInsert)
	case wire.OpUpdate:
		return fromLegacyWrite(f, KindUpdate)
	case wire.OpDelete:
		return fromLegacyWrite(f, KindDelete)
	case wire.OpMsg:
		return fromOpMsg(f)
	default:
		return nil, &mockerr.UnsupportedOpcodeError{Opcode: f.Header.OpCode}
	}
}

func fromOpQuery(f wire.Frame) (*Request, error) {
	opcode := int32(wire.OpQuery)
	flags := f.QueryFlags

	if strings.HasSuffix(f.FullCollectionName, ".$cmd") {
		var doc bson.D
		if err := bson.Unmarshal(f.Query, &doc); err != nil {
			return nil, &mockerr.WireParseError{Reason: "command document: " + err.Error()}
		}
		dbName := strings.TrimSuffix(f.FullCollectionName, ".$cmd")
		return &Request{
			Kind:      KindCommand,
			Opcode:    &opcode,
			RequestID: f.Header.RequestID,
			Namespace: &dbName,
			Flags:     &flags,
			Docs:      []bson.D{doc},
		}, nil
	}

	var doc bson.D
	if err := bson.Unmarshal(f.Query, &doc); err != nil {
		return nil, &mockerr.WireParseError{Reason: "query document: " + err.Error()}
	}

	var fields bson.D
	if f.ReturnFieldsSelector != nil {
		if err := bson.Unmarshal(f.ReturnFieldsSelector, &fields); err != nil {
			return nil, &mockerr.WireParseError{Reason: "fields selector: " + err.Error()}
		}
	}

	ns := f.FullCollectionName
	skip, ret := f.NumberToSkip, f.NumberToReturn
	return &Request{
		Kind:        KindQuery,
		Opcode:      &opcode,
		RequestID:   f.Header.RequestID,
		Namespace:   &ns,
		Flags:       &flags,
		Docs:        []bson.D{doc},
		NumToSkip:   &skip,
		NumToReturn: &ret,
		Fields:      fields,
	}, nil
}

func fromOpGetMore(f wire.Frame) *Request {
	opcode := int32(wire.OpGetMore)
	ns := f.GetMoreNamespace
	ret := f.NumberToReturn
	cid := f.CursorID
	return &Request{
		Kind:        KindGetMore,
		Opcode:      &opcode,
		RequestID:   f.Header.RequestID,
		Namespace:   &ns,
		NumToReturn: &ret,
		CursorID:    &cid,
	}
}

func fromOpKillCursors(f wire.Frame) *Request {
	opcode := int32(wire.OpKillCursors)
	return &Request{
		Kind:      KindKillCursors,
		Opcode:    &opcode,
		RequestID: f.Header.RequestID,
		CursorIDs: f.CursorIDs,
	}
}

func fromLegacyWrite(f wire.Frame, kind Kind) (*Request, error) {
	var opcode int32
	switch kind {
	case KindInsert:
		opcode = int32(wire.OpInsert)
	case KindUpdate:
		opcode = int32(wire.OpUpdate)
	case KindDelete:
		opcode = int32(wire.OpDelete)
	}

	docs := make([]bson.D, 0, len(f.WriteDocs))
	for _, raw := range f.WriteDocs {
		var d bson.D
		if err := bson.Unmarshal(raw, &d); err != nil {
			return nil, &mockerr.WireParseError{Reason: "write document: " + err.Error()}
		}
		docs = append(docs, d)
	}

	ns := f.WriteNS
	flags := f.WriteFlags
	return &Request{
		Kind:      kind,
		Opcode:    &opcode,
		RequestID: f.Header.RequestID,
		Namespace: &ns,
		Flags:     &flags,
		Docs:      docs,
	}, nil
}

func fromOpMsg(f wire.Frame) (*Request, error) {
	opcode := int32(wire.OpMsg)
	var body bson.Raw
	for _, sec := range f.Sections {
		if sec.Kind == wire.SectionBody {
			body = sec.Body
			break
		}
	}
	if body == nil {
		return nil, &mockerr.WireParseError{Reason: "OP_MSG has no kind-0 section"}
	}

	var doc bson.D
	if err := bson.Unmarshal(body, &doc); err != nil {
		return nil, &mockerr.WireParseError{Reason: "OP_MSG body: " + err.Error()}
	}

	var ns string
	for _, e := range doc {
		if e.Key == "$db" {
			if s, ok := e.Value.(string); ok {
				ns = s
			}
		}
	}

	flags := f.FlagBits
	req := &Request{
		Kind:      KindMsg,
		Opcode:    &opcode,
		RequestID: f.Header.RequestID,
		Namespace: &ns,
		Docs:      []bson.D{doc},
		Checksum:  f.Checksum,
	}
	req.Flags = new(int32)
	*req.Flags = int32(flags)
	return req, nil
}
