package message

import (
	"github.com/mockupdb/mockupdb/internal/mockerr"
	"github.com/mockupdb/mockupdb/internal/wire"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// ResolveReplySpec interprets the polymorphic reply-spec arguments accepted
// by Request.Reply and Server.Replies, in the order spec.md §4.B lists:
//
//  1. a pre-built batch ([]bson.D) is used as-is.
//  2. a number or bool becomes {"ok": value}, optionally merged with one
//     trailing bson.D of extra fields.
//  3. a single bson.D is the one reply document.
//  4. a string s becomes {s: 1}, optionally merged with one trailing bson.D.
//  5. two or more bson.D arguments are a batch of documents.
//
// Mixing a batch ([]bson.D, or 2+ bson.D args) with trailing non-document
// overrides is a BadSpecError, matching "mixing batch with kwargs is an
// error" in spec.md §4.B.
func ResolveReplySpec(args ...any) ([]bson.D, error) {
	if len(args) == 0 {
		return nil, nil
	}

	switch first := args[0].(type) {
	case []bson.D:
		if len(args) > 1 {
			return nil, &mockerr.BadSpecError{Reason: "extra arguments after a document batch"}
		}
		return first, nil

	case bson.D:
		if len(args) == 1 {
			return []bson.D{first}, nil
		}
		docs := make([]bson.D, 0, len(args))
		for _, a := range args {
			d, ok := a.(bson.D)
			if !ok {
				return nil, &mockerr.BadSpecError{Reason: "cannot mix documents with non-document arguments"}
			}
			docs = append(docs, d)
		}
		return docs, nil

	case string:
		doc := bson.D{{Key: first, Value: int32(1)}}
		extra, err := singleTrailingDoc(args)
		if err != nil {
			return nil, err
		}
		doc = append(doc, extra...)
		return []bson.D{doc}, nil

	case bool:
		return okDoc(first, args)

	case int:
		return okDoc(int32(first), args)

	case int32:
		return okDoc(first, args)

	case int64:
		return okDoc(first, args)

	case float64:
		return okDoc(first, args)

	case nil:
		return nil, nil

	default:
		return nil, &mockerr.BadSpecError{Reason: "unrecognized reply spec argument"}
	}
}

func okDoc(okValue any, args []any) ([]bson.D, error) {
	doc := bson.D{{Key: "ok", Value: okValue}}
	extra, err := singleTrailingDoc(args)
	if err != nil {
		return nil, err
	}
	doc = append(doc, extra...)
	return []bson.D{doc}, nil
}

func singleTrailingDoc(args []any) (bson.D, error) {
	if len(args) == 1 {
		return nil, nil
	}
	if len(args) == 2 {
		d, ok := args[1].(bson.D)
		if !ok {
			return nil, &mockerr.BadSpecError{Reason: "second reply spec argument must be a document"}
		}
		return d, nil
	}
	return nil, &mockerr.BadSpecError{Reason: "too many reply spec arguments"}
}

// ResolveRequestSpec interprets the polymorphic request-spec arguments
// accepted by Server.Autoresponds/Receives/Got, following
// spec.md §4.B's "additional rule" that a class token selects the variant:
//
//   - a *Request is used as-is (errors if more args follow).
//   - a Kind value selects the variant; remaining args are documents.
//   - otherwise, the same document-polymorphism rules as ResolveReplySpec
//     apply, producing a KindWildcard prototype.
func ResolveRequestSpec(args ...any) (*Request, error) {
	if len(args) == 0 {
		return &Request{Kind: KindWildcard}, nil
	}

	if r, ok := args[0].(*Request); ok {
		if len(args) > 1 {
			return nil, &mockerr.BadSpecError{Reason: "extra arguments after a built *Request"}
		}
		return r, nil
	}

	if k, ok := args[0].(Kind); ok {
		docs, err := ResolveReplySpec(args[1:]...)
		if err != nil {
			return nil, err
		}
		opcode := kindOpcode(k)
		req := &Request{Kind: k, Docs: docs}
		if opcode != 0 {
			req.Opcode = &opcode
		}
		return req, nil
	}

	docs, err := ResolveReplySpec(args...)
	if err != nil {
		return nil, err
	}
	return &Request{Kind: KindWildcard, Docs: docs}, nil
}

func kindOpcode(k Kind) int32 {
	switch k {
	case KindQuery, KindCommand:
		return int32(wire.OpQuery)
	case KindGetMore:
		return int32(wire.OpGetMore)
	case KindKillCursors:
		return int32(wire.OpKillCursors)
	case KindInsert:
		return int32(wire.OpInsert)
	case KindUpdate:
		return int32(wire.OpUpdate)
	case KindDelete:
		return int32(wire.OpDelete)
	case KindMsg:
		return int32(wire.OpMsg)
	default:
		return 0
	}
}

// NewCommand builds a Command prototype named name, with optional extra
// fields merged in. It is the explicit-constructor substitute for calling
// `Command("ismaster")` in the source.
func NewCommand(name string, extra ...bson.D) *Request {
	doc := bson.D{{Key: name, Value: int32(1)}}
	for _, e := range extra {
		doc = append(doc, e...)
	}
	opcode := int32(wire.OpQuery)
	return &Request{Kind: KindCommand, Opcode: &opcode, Docs: []bson.D{doc}}
}

// NewQuery builds an OpQuery prototype over namespace ns with filter doc.
func NewQuery(ns string, doc bson.D) *Request {
	opcode := int32(wire.OpQuery)
	return &Request{Kind: KindQuery, Opcode: &opcode, Namespace: &ns, Docs: []bson.D{doc}}
}

// WithNamespace sets the prototype's namespace and returns it, for chaining
// onto NewCommand/NewQuery/Kind-based construction.
func (r *Request) WithNamespace(ns string) *Request {
	r.Namespace = &ns
	return r
}

// WithFlags sets the prototype's flags and returns it.
func (r *Request) WithFlags(flags int32) *Request {
	r.Flags = &flags
	return r
}

// WithNumToReturn sets the prototype's numToReturn and returns it.
func (r *Request) WithNumToReturn(n int32) *Request {
	r.NumToReturn = &n
	return r
}
