// Package message holds the typed representation of wire requests and the
// outbound reply helpers bound to them. It knows how to turn itself into
// bytes (via internal/wire) and how to reach back to its owning connection
// to send a reply or hang up, but it knows nothing about matching or
// queuing — see internal/matcher and internal/queue.
package message

import (
	"fmt"
	"strings"

	"github.com/mockupdb/mockupdb/internal/wire"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Kind distinguishes the request variants of spec.md §3. It plays the role
// the source fills with a Request subclass hierarchy (Request, OpQuery,
// Command, OpGetMore, ...), collapsed to a tagged union: a systems language
// keys on a discriminant rather than dispatching through subclasses.
type Kind int

const (
	// KindWildcard is used only for prototype requests inside a Matcher;
	// it never appears on a request built from wire bytes.
	KindWildcard Kind = iota
	KindQuery
	KindCommand
	KindGetMore
	KindKillCursors
	KindInsert
	KindUpdate
	KindDelete
	KindMsg
)

func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "OpQuery"
	case KindCommand:
		return "Command"
	case KindGetMore:
		return "OpGetMore"
	case KindKillCursors:
		return "OpKillCursors"
	case KindInsert:
		return "OpInsert"
	case KindUpdate:
		return "OpUpdate"
	case KindDelete:
		return "OpDelete"
	case KindMsg:
		return "OpMsg"
	default:
		return "Request"
	}
}

// Client is the connection-side handle a Request uses to send a reply or
// close the socket. It is satisfied by internal/server's connection type.
// Keeping it as an interface — rather than an embedded connection pointer —
// is the explicit-handle substitute spec.md §9 calls for in place of the
// source's weakly-referenced back-pointers.
type Client interface {
	WriteReply(responseTo int32, opts wire.ReplyOptions, docs []bson.D) error
	WriteMsg(responseTo int32, flagBits uint32, doc bson.D) error
	Hangup() error
}

// Logger receives request/reply events for verbose logging. It is the
// "server back-reference used only for verbose logging" of spec.md §3.
type Logger interface {
	LogRequest(r *Request)
	LogReply(r *Request, docs []bson.D)
}

// Request is a tagged union over every wire message kind mockupdb parses,
// plus the wildcard form used as a Matcher prototype. Pointer fields are
// nil to mean "unspecified" — the null-means-wildcard convention of
// spec.md §3.
type Request struct {
	Kind      Kind
	Opcode    *int32
	RequestID int32
	Namespace *string
	Flags     *int32
	Docs      []bson.D

	NumToSkip   *int32
	NumToReturn *int32
	Fields      bson.D
	CursorID    *int64
	CursorIDs   []int64
	Checksum    *uint32

	client Client
	logger Logger
}

// WithClient attaches the connection handle and logger used to answer this
// request. Called once, by the connection loop, right after parsing.
func (r *Request) WithClient(c Client, l Logger) *Request {
	r.client = c
	r.logger = l
	return r
}

// Doc returns the single document on this request. It panics if there
// isn't exactly one, mirroring the source's assertion — callers that
// aren't sure should check len(r.Docs) first.
func (r *Request) Doc() bson.D {
	if len(r.Docs) != 1 {
		panic(fmt.Sprintf("%v has %d documents, expected exactly one", r, len(r.Docs)))
	}
	return r.Docs[0]
}

// CommandName returns the first key of the command document, or "" if this
// isn't a Command or has an empty document.
func (r *Request) CommandName() string {
	if r.Kind != KindCommand || len(r.Docs) == 0 || len(r.Docs[0]) == 0 {
		return ""
	}
	return r.Docs[0][0].Key
}

func (r *Request) String() string {
	var sb strings.Builder
	sb.WriteString(r.Kind.String())
	sb.WriteByte('(')
	for i, d := range r.Docs {
		if i > 0 {
			sb.WriteString(", ")
		}
		ejson, err := bson.MarshalExtJSON(d, false, false)
		if err != nil {
			sb.WriteString(fmt.Sprintf("%v", d))
			continue
		}
		sb.Write(ejson)
	}
	sb.WriteByte(')')
	return sb.String()
}

// Reply sends an OpReply/OpMsg reply to this request's client. See
// ResolveReplySpec for the accepted argument shapes. With no arguments, a
// Command gets {"ok": 1}, an OP_MSG request gets an empty body document,
// and every other kind gets zero documents.
func (r *Request) Reply(specs ...any) error {
	docs, err := ResolveReplySpec(specs...)
	if err != nil {
		return err
	}

	if r.Kind == KindCommand {
		switch len(docs) {
		case 0:
			docs = []bson.D{{{Key: "ok", Value: int32(1)}}}
		case 1:
			if _, ok := lookup(docs[0], "ok"); !ok {
				docs[0] = append(bson.D{{Key: "ok", Value: int32(1)}}, docs[0]...)
			}
		default:
			return fmt.Errorf("mockupdb: command reply with multiple documents: %v", docs)
		}
	}

	if r.logger != nil {
		r.logger.LogReply(r, docs)
	}
	if r.client == nil {
		return fmt.Errorf("mockupdb: request has no client attached")
	}

	if r.Kind == KindMsg {
		doc := bson.D{}
		if len(docs) == 1 {
			doc = docs[0]
		} else if len(docs) > 1 {
			return fmt.Errorf("mockupdb: OP_MSG reply must have at most one document")
		}
		return r.client.WriteMsg(r.RequestID, 0, doc)
	}

	return r.client.WriteReply(r.RequestID, wire.ReplyOptions{}, docs)
}

// Fail replies with the QueryFailure flag set (legacy protocol) or an
// ok:0/$err document (OP_MSG), matching the source's Request.fail.
func (r *Request) Fail(err any, extra ...bson.D) error {
	msg := "mockupdb query failure"
	switch v := err.(type) {
	case nil:
	case string:
		msg = v
	case error:
		msg = v.Error()
	default:
		msg = fmt.Sprintf("%v", v)
	}

	doc := bson.D{{Key: "$err", Value: msg}, {Key: "ok", Value: int32(0)}}
	for _, e := range extra {
		doc = append(doc, e...)
	}

	if r.Kind == KindMsg {
		if r.client == nil {
			return fmt.Errorf("mockupdb: request has no client attached")
		}
		if r.logger != nil {
			r.logger.LogReply(r, []bson.D{doc})
		}
		return r.client.WriteMsg(r.RequestID, 0, doc)
	}

	if r.logger != nil {
		r.logger.LogReply(r, []bson.D{doc})
	}
	if r.client == nil {
		return fmt.Errorf("mockupdb: request has no client attached")
	}
	return r.client.WriteReply(r.RequestID, wire.ReplyOptions{Flags: wire.ReplyFlagQueryFailure}, []bson.D{doc})
}

// CommandErr sends {ok: 0, code, errmsg} in response to a command.
func (r *Request) CommandErr(code int32, errmsg string) error {
	return r.Reply(bson.D{
		{Key: "ok", Value: int32(0)},
		{Key: "errmsg", Value: errmsg},
		{Key: "code", Value: code},
	})
}

// RepliesToGLE sends a legacy getLastError-style response:
// {ok: 1, err: null, ...overrides}.
func (r *Request) RepliesToGLE(overrides bson.D) error {
	doc := bson.D{{Key: "ok", Value: int32(1)}, {Key: "err", Value: nil}}
	doc = append(doc, overrides...)
	return r.Reply(doc)
}

// Hangup closes the underlying connection without sending a reply.
func (r *Request) Hangup() error {
	if r.client == nil {
		return fmt.Errorf("mockupdb: request has no client attached")
	}
	return r.client.Hangup()
}

func lookup(d bson.D, key string) (any, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}
