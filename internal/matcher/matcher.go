// Package matcher implements the predicate a server uses to decide which
// autoresponder handles an incoming request, and which queued request
// satisfies a test's expectation. It is a plain visitor over
// message.Request fields — the explicit substitute spec.md §9 calls for in
// place of the source's attribute reflection.
package matcher

import (
	"strings"

	"github.com/mockupdb/mockupdb/internal/message"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Matcher wraps a prototype request and decides whether candidate requests
// satisfy it.
type Matcher struct {
	prototype *message.Request
}

// New wraps proto. A nil or KindWildcard prototype matches anything.
func New(proto *message.Request) *Matcher {
	if proto == nil {
		proto = &message.Request{Kind: message.KindWildcard}
	}
	return &Matcher{prototype: proto}
}

// Prototype returns the prototype request this Matcher was built from.
func (m *Matcher) Prototype() *message.Request { return m.prototype }

// Matches reports whether candidate satisfies every gate: kind/opcode,
// per-field attributes, document count, document subset, and key order.
func (m *Matcher) Matches(candidate *message.Request) bool {
	p := m.prototype

	if !kindMatches(p, candidate) {
		return false
	}
	if p.Opcode != nil && candidate.Opcode != nil && *p.Opcode != *candidate.Opcode {
		return false
	}
	if !attrsMatch(p, candidate) {
		return false
	}
	if len(p.Docs) != 0 && len(p.Docs) != len(candidate.Docs) {
		return false
	}

	isCommandLike := p.Kind == message.KindCommand || p.Kind == message.KindMsg
	for i, protoDoc := range p.Docs {
		if i >= len(candidate.Docs) {
			return false
		}
		if !docMatches(protoDoc, candidate.Docs[i], isCommandLike && i == 0) {
			return false
		}
	}

	return true
}

// kindMatches implements the opcode gate of spec.md §4.C: a wildcard
// prototype matches any kind; a Command prototype matches only Commands
// (never a plain query sharing the same wire opcode); any other non-
// wildcard prototype matches by declared opcode, which kindMatches leaves
// to the opcode check in Matches.
func kindMatches(p, candidate *message.Request) bool {
	if p.Kind == message.KindWildcard {
		return true
	}
	if p.Kind == message.KindCommand {
		return candidate.Kind == message.KindCommand
	}
	return true
}

// attrsMatch checks every public, non-document attribute: a non-nil
// prototype value must equal the candidate's; nil means "don't care".
func attrsMatch(p, candidate *message.Request) bool {
	if p.Namespace != nil && (candidate.Namespace == nil || *p.Namespace != *candidate.Namespace) {
		return false
	}
	if p.Flags != nil && (candidate.Flags == nil || *p.Flags != *candidate.Flags) {
		return false
	}
	if p.NumToSkip != nil && (candidate.NumToSkip == nil || *p.NumToSkip != *candidate.NumToSkip) {
		return false
	}
	if p.NumToReturn != nil && (candidate.NumToReturn == nil || *p.NumToReturn != *candidate.NumToReturn) {
		return false
	}
	if p.CursorID != nil && (candidate.CursorID == nil || *p.CursorID != *candidate.CursorID) {
		return false
	}
	if p.CursorIDs != nil && !int64SliceEqual(p.CursorIDs, candidate.CursorIDs) {
		return false
	}
	if p.Checksum != nil && (candidate.Checksum == nil || *p.Checksum != *candidate.Checksum) {
		return false
	}
	return true
}

func int64SliceEqual(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// docMatches implements the document subset and key-order gates for one
// document pair. commandName true means: compare the first key
// case-insensitively (the command name), per spec.md §4.C point 4.
func docMatches(proto, candidate bson.D, commandName bool) bool {
	protoKeys := make([]string, 0, len(proto))

	for i, e := range proto {
		if commandName && i == 0 {
			actualKey, actualVal, ok := findFold(candidate, e.Key)
			if !ok || !valueEqual(actualVal, e.Value) {
				return false
			}
			protoKeys = append(protoKeys, actualKey)
			continue
		}
		val, ok := lookup(candidate, e.Key)
		if !ok || !valueEqual(val, e.Value) {
			return false
		}
		protoKeys = append(protoKeys, e.Key)
	}

	return seqMatch(protoKeys, keysOf(candidate))
}

func lookup(d bson.D, key string) (any, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

func findFold(d bson.D, key string) (string, any, bool) {
	for _, e := range d {
		if strings.EqualFold(e.Key, key) {
			return e.Key, e.Value, true
		}
	}
	return "", nil, false
}

func keysOf(d bson.D) []string {
	keys := make([]string, len(d))
	for i, e := range d {
		keys[i] = e.Key
	}
	return keys
}

// seqMatch reports whether seq0 is an order-preserving subsequence of seq1.
func seqMatch(seq0, seq1 []string) bool {
	if len(seq1) < len(seq0) {
		return false
	}
	j := 0
	for _, elem := range seq0 {
		for j < len(seq1) && seq1[j] != elem {
			j++
		}
		if j >= len(seq1) {
			return false
		}
		j++
	}
	return true
}

// valueEqual compares two decoded BSON values, treating the numeric types
// BSON round-trips through (int32, int64, float64) as equal when their
// magnitudes match, since a driver may encode "1" as any of them.
func valueEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}

	switch av := a.(type) {
	case bson.D:
		bv, ok := b.(bson.D)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i].Key != bv[i].Key || !valueEqual(av[i].Value, bv[i].Value) {
				return false
			}
		}
		return true
	case bson.A:
		bv, ok := b.(bson.A)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valueEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
