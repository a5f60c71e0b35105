package wire_test

import (
	"bytes"
	"testing"

	"github.com/mockupdb/mockupdb/internal/mockerr"
	"github.com/mockupdb/mockupdb/internal/wire"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// writeOpQueryFrame hand-assembles an OP_QUERY message the way a driver
// would, so ReadHeader/ReadBody can be exercised without going through
// WriteReply (which only emits OP_REPLY/OP_MSG).
func writeOpQueryFrame(t *testing.T, requestID int32, ns string, query bson.D) []byte {
	t.Helper()
	doc, err := bson.Marshal(query)
	require.NoError(t, err)

	var body bytes.Buffer
	body.Write([]byte{0, 0, 0, 0}) // flags
	body.WriteString(ns)
	body.WriteByte(0)
	body.Write([]byte{0, 0, 0, 0}) // numberToSkip
	body.Write([]byte{0, 0, 0, 0}) // numberToReturn
	body.Write(doc)

	var msg bytes.Buffer
	hdr := make([]byte, 16)
	msgLen := int32(16 + body.Len())
	putLE32(hdr[0:4], msgLen)
	putLE32(hdr[4:8], requestID)
	putLE32(hdr[8:12], 0)
	putLE32(hdr[12:16], int32(wire.OpQuery))
	msg.Write(hdr)
	msg.Write(body.Bytes())
	return msg.Bytes()
}

func putLE32(b []byte, v int32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func TestReadHeaderAndBody_OpQuery(t *testing.T) {
	raw := writeOpQueryFrame(t, 42, "admin.$cmd", bson.D{{Key: "ismaster", Value: int32(1)}})
	r := bytes.NewReader(raw)

	hdr, err := wire.ReadHeader(r)
	require.NoError(t, err)
	require.Equal(t, int32(42), hdr.RequestID)
	require.Equal(t, int32(wire.OpQuery), hdr.OpCode)

	frame, err := wire.ReadBody(r, hdr)
	require.NoError(t, err)
	require.Equal(t, "admin.$cmd", frame.FullCollectionName)

	var doc bson.D
	require.NoError(t, bson.Unmarshal(frame.Query, &doc))
	require.Equal(t, bson.D{{Key: "ismaster", Value: int32(1)}}, doc)
}

func TestReadBody_UnsupportedOpcode(t *testing.T) {
	hdr := wire.Header{MessageLength: 16, OpCode: 9999}
	_, err := wire.ReadBody(bytes.NewReader(nil), hdr)
	require.Error(t, err)
	var unsupported *mockerr.UnsupportedOpcodeError
	require.ErrorAs(t, err, &unsupported)
}

func TestWriteReply_RoundTripsResponseTo(t *testing.T) {
	var buf bytes.Buffer
	docs := []bson.D{{{Key: "ok", Value: int32(1)}}}
	require.NoError(t, wire.WriteReply(&buf, 7, wire.ReplyOptions{}, docs))

	hdr, err := wire.ReadHeader(&buf)
	require.NoError(t, err)
	require.Equal(t, int32(7), hdr.ResponseTo)
	require.Equal(t, int32(wire.OpReply), hdr.OpCode)
}

func TestWriteMsg_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	doc := bson.D{{Key: "ok", Value: int32(1)}}
	require.NoError(t, wire.WriteMsg(&buf, 9, 0, doc))

	hdr, err := wire.ReadHeader(&buf)
	require.NoError(t, err)
	require.Equal(t, int32(9), hdr.ResponseTo)

	frame, err := wire.ReadBody(&buf, hdr)
	require.NoError(t, err)
	require.Len(t, frame.Sections, 1)
	require.Equal(t, wire.SectionBody, frame.Sections[0].Kind)

	var got bson.D
	require.NoError(t, bson.Unmarshal(frame.Sections[0].Body, &got))
	require.Equal(t, doc, got)
}

func TestReadBody_OpMsgChecksum(t *testing.T) {
	// flagBits = 0x01 (checksum present), one kind-0 section {foo:1,$db:"mydb"},
	// trailing uint32 checksum 1234 — spec scenario 6.
	doc, err := bson.Marshal(bson.D{{Key: "foo", Value: int32(1)}, {Key: "$db", Value: "mydb"}})
	require.NoError(t, err)

	var body bytes.Buffer
	putLE32Buf(&body, 1) // flagBits
	body.WriteByte(byte(wire.SectionBody))
	body.Write(doc)
	putLE32Buf(&body, 1234) // checksum

	hdr := wire.Header{MessageLength: int32(16 + body.Len()), OpCode: int32(wire.OpMsg)}
	frame, err := wire.ReadBody(&body, hdr)
	require.NoError(t, err)
	require.Equal(t, uint32(1), frame.FlagBits)
	require.NotNil(t, frame.Checksum)
	require.Equal(t, uint32(1234), *frame.Checksum)
	require.Len(t, frame.Sections, 1)
}

func putLE32Buf(buf *bytes.Buffer, v uint32) {
	buf.Write([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}
