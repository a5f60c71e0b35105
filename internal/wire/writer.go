package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/rand/v2"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// NextRequestID returns a fresh random request id for an outbound message,
// matching the source's random-id-per-reply behavior (the wire protocol
// doesn't require replies' request ids to be sequential or unique, only
// that responseTo echoes the request they answer).
func NextRequestID() int32 {
	return int32(rand.Uint32() & 0x7fffffff)
}

// ReplyOptions controls the legacy OP_REPLY header fields beyond the
// documents themselves.
type ReplyOptions struct {
	Flags        int32
	CursorID     int64
	StartingFrom int32
}

// WriteReply serializes a legacy OP_REPLY in response to responseTo.
func WriteReply(w io.Writer, responseTo int32, opts ReplyOptions, docs []bson.D) error {
	var body []byte
	for _, doc := range docs {
		b, err := bson.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal reply doc: %w", err)
		}
		body = append(body, b...)
	}

	msgLen := int32(16 + 4 + 8 + 4 + 4 + len(body))
	hdr := Header{MessageLength: msgLen, RequestID: NextRequestID(), ResponseTo: responseTo, OpCode: int32(OpReply)}

	if err := writeHeader(w, hdr); err != nil {
		return err
	}
	if err := writeInt32(w, opts.Flags); err != nil {
		return err
	}
	if err := writeInt64(w, opts.CursorID); err != nil {
		return err
	}
	if err := writeInt32(w, opts.StartingFrom); err != nil {
		return err
	}
	if err := writeInt32(w, int32(len(docs))); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// WriteMsg serializes an OP_MSG reply with a single kind-0 section.
func WriteMsg(w io.Writer, responseTo int32, flagBits uint32, doc bson.D) error {
	body, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal msg doc: %w", err)
	}

	msgLen := int32(16 + 4 + 1 + len(body))
	hdr := Header{MessageLength: msgLen, RequestID: NextRequestID(), ResponseTo: responseTo, OpCode: int32(OpMsg)}

	if err := writeHeader(w, hdr); err != nil {
		return err
	}
	if err := writeUint32(w, flagBits); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(SectionBody)}); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

func writeHeader(w io.Writer, h Header) error {
	var buf [16]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.MessageLength))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.RequestID))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.ResponseTo))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.OpCode))
	_, err := w.Write(buf[:])
	return err
}

func writeInt32(w io.Writer, v int32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	_, err := w.Write(buf[:])
	return err
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeInt64(w io.Writer, v int64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	_, err := w.Write(buf[:])
	return err
}
