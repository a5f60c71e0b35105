package matcher_test

import (
	"testing"

	"github.com/mockupdb/mockupdb/internal/matcher"
	"github.com/mockupdb/mockupdb/internal/message"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestMatches_CaseInsensitiveCommandName(t *testing.T) {
	proto := message.NewCommand("ismaster")
	candidate := message.NewCommand("IsMaster")
	require.True(t, matcher.New(proto).Matches(candidate))
}

func TestMatches_CommandDoesNotMatchPlainQuery(t *testing.T) {
	proto := message.NewCommand("ping")
	candidate := message.NewQuery("test.coll", bson.D{{Key: "ping", Value: int32(1)}})
	require.False(t, matcher.New(proto).Matches(candidate))
}

func TestMatches_OrderedDocumentSensitivity(t *testing.T) {
	proto := &message.Request{Kind: message.KindWildcard, Docs: []bson.D{
		{{Key: "a", Value: int32(1)}, {Key: "b", Value: int32(1)}},
	}}
	reordered := &message.Request{Kind: message.KindWildcard, Docs: []bson.D{
		{{Key: "b", Value: int32(1)}, {Key: "a", Value: int32(1)}},
	}}
	superset := &message.Request{Kind: message.KindWildcard, Docs: []bson.D{
		{{Key: "a", Value: int32(1)}, {Key: "b", Value: int32(1)}, {Key: "c", Value: int32(1)}},
	}}

	m := matcher.New(proto)
	require.False(t, m.Matches(reordered))
	require.True(t, m.Matches(superset))
}

func TestMatches_DocumentSubsetAllowsExtraKeys(t *testing.T) {
	proto := &message.Request{Kind: message.KindWildcard, Docs: []bson.D{
		{{Key: "x", Value: int32(1)}},
	}}
	candidate := &message.Request{Kind: message.KindWildcard, Docs: []bson.D{
		{{Key: "x", Value: int32(1)}, {Key: "y", Value: "extra"}},
	}}
	require.True(t, matcher.New(proto).Matches(candidate))
}

func TestMatches_WildcardMatchesAnything(t *testing.T) {
	m := matcher.New(nil)
	require.True(t, m.Matches(message.NewCommand("whatever")))
}

func TestMatches_CrossNumericTypeValuesEqual(t *testing.T) {
	proto := &message.Request{Kind: message.KindWildcard, Docs: []bson.D{
		{{Key: "ok", Value: int32(1)}},
	}}
	candidate := &message.Request{Kind: message.KindWildcard, Docs: []bson.D{
		{{Key: "ok", Value: float64(1)}},
	}}
	require.True(t, matcher.New(proto).Matches(candidate))
}

func TestMatches_AttributeGateNamespace(t *testing.T) {
	proto := message.NewQuery("test.coll", bson.D{})
	mismatched := message.NewQuery("other.coll", bson.D{})
	matched := message.NewQuery("test.coll", bson.D{{Key: "extra", Value: 1}})

	m := matcher.New(proto)
	require.False(t, m.Matches(mismatched))
	require.True(t, m.Matches(matched))
}

func TestMatches_LIFOAutoresponderSemanticsAtMatcherLevel(t *testing.T) {
	// Two matchers for the same prototype both match the same request — the
	// LIFO tie-break itself lives in internal/server, but both matchers
	// agreeing is the precondition that makes that tie-break meaningful.
	proto := message.NewCommand("ping")
	req := message.NewCommand("ping")
	m1 := matcher.New(proto)
	m2 := matcher.New(proto)
	require.True(t, m1.Matches(req))
	require.True(t, m2.Matches(req))
}
