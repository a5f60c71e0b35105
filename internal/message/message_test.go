package message_test

import (
	"testing"

	"github.com/mockupdb/mockupdb/internal/message"
	"github.com/mockupdb/mockupdb/internal/wire"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func buildOpQueryFrame(ns string, doc bson.D) wire.Frame {
	return wire.Frame{
		Header:             wire.Header{OpCode: int32(wire.OpQuery), RequestID: 5},
		FullCollectionName: ns,
		Query:              must(bson.Marshal(doc)),
	}
}

func must(b []byte, err error) bson.Raw {
	if err != nil {
		panic(err)
	}
	return bson.Raw(b)
}

func TestFromFrame_CommandPromotion(t *testing.T) {
	f := buildOpQueryFrame("admin.$cmd", bson.D{{Key: "ismaster", Value: int32(1)}})
	req, err := message.FromFrame(f)
	require.NoError(t, err)
	require.Equal(t, message.KindCommand, req.Kind)
	require.Equal(t, "admin", *req.Namespace)
	require.Equal(t, "ismaster", req.CommandName())
}

func TestFromFrame_PlainQuery(t *testing.T) {
	f := buildOpQueryFrame("test.coll", bson.D{{Key: "x", Value: int32(1)}})
	req, err := message.FromFrame(f)
	require.NoError(t, err)
	require.Equal(t, message.KindQuery, req.Kind)
	require.Equal(t, "test.coll", *req.Namespace)
}

func TestFromFrame_OpMsgExtractsDB(t *testing.T) {
	doc := bson.D{{Key: "foo", Value: int32(1)}, {Key: "$db", Value: "mydb"}}
	body := must(bson.Marshal(doc))
	checksum := uint32(1234)
	f := wire.Frame{
		Header:   wire.Header{OpCode: int32(wire.OpMsg)},
		FlagBits: 1,
		Sections: []wire.Section{{Kind: wire.SectionBody, Body: body}},
		Checksum: &checksum,
	}

	req, err := message.FromFrame(f)
	require.NoError(t, err)
	require.Equal(t, message.KindMsg, req.Kind)
	require.Equal(t, int32(1), *req.Flags)
	require.Equal(t, "mydb", *req.Namespace)
	require.Equal(t, doc, req.Doc())
	require.Equal(t, uint32(1234), *req.Checksum)
}

func TestResolveReplySpec_NumberBecomesOk(t *testing.T) {
	docs, err := message.ResolveReplySpec(true)
	require.NoError(t, err)
	require.Equal(t, []bson.D{{{Key: "ok", Value: true}}}, docs)
}

func TestResolveReplySpec_StringWithExtra(t *testing.T) {
	docs, err := message.ResolveReplySpec("ismaster", bson.D{{Key: "secondary", Value: false}})
	require.NoError(t, err)
	require.Equal(t, []bson.D{{
		{Key: "ismaster", Value: int32(1)},
		{Key: "secondary", Value: false},
	}}, docs)
}

func TestResolveReplySpec_BatchOfDocuments(t *testing.T) {
	a := bson.D{{Key: "a", Value: 1}}
	b := bson.D{{Key: "b", Value: 2}}
	docs, err := message.ResolveReplySpec(a, b)
	require.NoError(t, err)
	require.Equal(t, []bson.D{a, b}, docs)
}

func TestResolveReplySpec_MixingBatchWithExtraIsBadSpec(t *testing.T) {
	_, err := message.ResolveReplySpec([]bson.D{{{Key: "a", Value: 1}}}, bson.D{{Key: "b", Value: 2}})
	require.Error(t, err)
}

func TestNewCommand_CaseAndShape(t *testing.T) {
	req := message.NewCommand("ping")
	require.Equal(t, message.KindCommand, req.Kind)
	require.Equal(t, "ping", req.CommandName())
}
