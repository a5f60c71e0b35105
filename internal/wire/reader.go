package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/mockupdb/mockupdb/internal/mockerr"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// ReadHeader performs an exact-length blocking read of the 16-byte frame
// header. A read error is returned unchanged: io.EOF when the client
// disconnected between messages, io.ErrUnexpectedEOF for a partial header.
// Neither is wrapped as a parse error or as a separate connection-reset
// error; the connection loop treats both as a clean disconnect.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [16]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	return Header{
		MessageLength: int32(binary.LittleEndian.Uint32(buf[0:4])),
		RequestID:     int32(binary.LittleEndian.Uint32(buf[4:8])),
		ResponseTo:    int32(binary.LittleEndian.Uint32(buf[8:12])),
		OpCode:        int32(binary.LittleEndian.Uint32(buf[12:16])),
	}, nil
}

// ReadBody reads and parses the opcode-specific body following h, returning
// a Frame with exactly the fields for h.OpCode populated.
func ReadBody(r io.Reader, h Header) (Frame, error) {
	bodyLen := int(h.MessageLength) - 16
	if bodyLen < 0 {
		return Frame{}, &mockerr.WireParseError{Reason: fmt.Sprintf("negative body length %d", bodyLen)}
	}
	buf := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Frame{}, err
	}

	switch Opcode(h.OpCode) {
	case OpQuery:
		return parseOpQuery(h, buf)
	case OpGetMore:
		return parseOpGetMore(h, buf)
	case OpKillCursors:
		return parseOpKillCursors(h, buf)
	case OpInsert, OpUpdate, OpDelete:
		return parseLegacyWrite(h, buf)
	case OpMsg:
		return parseOpMsg(h, buf)
	default:
		return Frame{}, &mockerr.UnsupportedOpcodeError{Opcode: h.OpCode}
	}
}

func parseOpQuery(h Header, buf []byte) (Frame, error) {
	if len(buf) < 9 {
		return Frame{}, &mockerr.WireParseError{Reason: "OP_QUERY body too short"}
	}
	flags := int32(binary.LittleEndian.Uint32(buf[:4]))
	name, pos, err := readCString(buf, 4)
	if err != nil {
		return Frame{}, err
	}
	if pos+8 > len(buf) {
		return Frame{}, &mockerr.WireParseError{Reason: "OP_QUERY truncated after collection name"}
	}
	numToSkip := int32(binary.LittleEndian.Uint32(buf[pos:]))
	pos += 4
	numToReturn := int32(binary.LittleEndian.Uint32(buf[pos:]))
	pos += 4

	query, n, err := readBSONDoc(buf[pos:])
	if err != nil {
		return Frame{}, err
	}
	pos += n

	var fields bson.Raw
	if pos < len(buf) {
		fields, _, err = readBSONDoc(buf[pos:])
		if err != nil {
			return Frame{}, err
		}
	}

	return Frame{
		Header:               h,
		QueryFlags:           flags,
		FullCollectionName:   name,
		NumberToSkip:         numToSkip,
		NumberToReturn:       numToReturn,
		Query:                query,
		ReturnFieldsSelector: fields,
	}, nil
}

func parseOpGetMore(h Header, buf []byte) (Frame, error) {
	if len(buf) < 4 {
		return Frame{}, &mockerr.WireParseError{Reason: "OP_GET_MORE body too short"}
	}
	// leading int32 is reserved / zero.
	name, pos, err := readCString(buf, 4)
	if err != nil {
		return Frame{}, err
	}
	if pos+12 > len(buf) {
		return Frame{}, &mockerr.WireParseError{Reason: "OP_GET_MORE truncated"}
	}
	numToReturn := int32(binary.LittleEndian.Uint32(buf[pos:]))
	pos += 4
	cursorID := int64(binary.LittleEndian.Uint64(buf[pos:]))

	return Frame{
		Header:           h,
		GetMoreNamespace: name,
		NumberToReturn:   numToReturn,
		CursorID:         cursorID,
	}, nil
}

func parseOpKillCursors(h Header, buf []byte) (Frame, error) {
	if len(buf) < 8 {
		return Frame{}, &mockerr.WireParseError{Reason: "OP_KILL_CURSORS body too short"}
	}
	// leading int32 reserved.
	n := int(int32(binary.LittleEndian.Uint32(buf[4:8])))
	if n < 0 || 8+n*8 > len(buf) {
		return Frame{}, &mockerr.WireParseError{Reason: "OP_KILL_CURSORS bad cursor count"}
	}
	ids := make([]int64, n)
	pos := 8
	for i := 0; i < n; i++ {
		ids[i] = int64(binary.LittleEndian.Uint64(buf[pos:]))
		pos += 8
	}
	return Frame{Header: h, CursorIDs: ids}, nil
}

func parseLegacyWrite(h Header, buf []byte) (Frame, error) {
	if len(buf) < 5 {
		return Frame{}, &mockerr.WireParseError{Reason: "legacy write body too short"}
	}
	flags := int32(binary.LittleEndian.Uint32(buf[:4]))
	name, pos, err := readCString(buf, 4)
	if err != nil {
		return Frame{}, err
	}

	var docs []bson.Raw
	for pos < len(buf) {
		doc, n, err := readBSONDoc(buf[pos:])
		if err != nil {
			return Frame{}, err
		}
		docs = append(docs, doc)
		pos += n
	}

	return Frame{Header: h, WriteFlags: flags, WriteNS: name, WriteDocs: docs}, nil
}

func parseOpMsg(h Header, buf []byte) (Frame, error) {
	if len(buf) < 4 {
		return Frame{}, &mockerr.WireParseError{Reason: "OP_MSG body too short"}
	}
	flagBits := binary.LittleEndian.Uint32(buf[:4])
	pos := 4

	end := len(buf)
	var checksum *uint32
	if flagBits&MsgFlagChecksumPresent != 0 {
		if end < pos+4 {
			return Frame{}, &mockerr.WireParseError{Reason: "OP_MSG missing checksum"}
		}
		end -= 4
		c := binary.LittleEndian.Uint32(buf[end:])
		checksum = &c
	}

	var sections []Section
	for pos < end {
		kind := SectionKind(buf[pos])
		pos++

		switch kind {
		case SectionBody:
			doc, n, err := readBSONDoc(buf[pos:end])
			if err != nil {
				return Frame{}, err
			}
			sections = append(sections, Section{Kind: SectionBody, Body: doc})
			pos += n

		case SectionDocSeq:
			if pos+4 > end {
				return Frame{}, &mockerr.WireParseError{Reason: "truncated doc sequence size"}
			}
			seqSize := int(binary.LittleEndian.Uint32(buf[pos:]))
			seqEnd := pos + seqSize
			if seqEnd > end {
				return Frame{}, &mockerr.WireParseError{Reason: "doc sequence overruns message"}
			}
			ident, identPos, err := readCString(buf, pos+4)
			if err != nil {
				return Frame{}, err
			}

			var docs []bson.Raw
			for identPos < seqEnd {
				doc, n, err := readBSONDoc(buf[identPos:seqEnd])
				if err != nil {
					return Frame{}, err
				}
				docs = append(docs, doc)
				identPos += n
			}
			sections = append(sections, Section{Kind: SectionDocSeq, Identifier: ident, Documents: docs})
			pos = seqEnd

		default:
			return Frame{}, &mockerr.WireParseError{Reason: fmt.Sprintf("unknown OP_MSG section kind %d", kind)}
		}
	}

	return Frame{Header: h, FlagBits: flagBits, Sections: sections, Checksum: checksum}, nil
}

// readCString reads bytes from buf[from:] up to and including the first NUL,
// validating the preceding bytes as UTF-8. It returns the decoded string and
// the position immediately after the NUL.
func readCString(buf []byte, from int) (string, int, error) {
	end := from
	for end < len(buf) && buf[end] != 0 {
		end++
	}
	if end >= len(buf) {
		return "", 0, &mockerr.WireParseError{Reason: "unterminated c-string"}
	}
	if !utf8.Valid(buf[from:end]) {
		return "", 0, &mockerr.WireParseError{Reason: "c-string is not valid UTF-8"}
	}
	return string(buf[from:end]), end + 1, nil
}

// readBSONDoc reads one length-prefixed BSON document from buf, returning
// the raw document and the number of bytes it occupied.
func readBSONDoc(buf []byte) (bson.Raw, int, error) {
	if len(buf) < 4 {
		return nil, 0, &mockerr.WireParseError{Reason: "buffer too short for BSON length"}
	}
	docLen := int(binary.LittleEndian.Uint32(buf[:4]))
	if docLen < 5 || docLen > len(buf) {
		return nil, 0, &mockerr.WireParseError{Reason: fmt.Sprintf("invalid BSON document length %d", docLen)}
	}
	doc := make([]byte, docLen)
	copy(doc, buf[:docLen])
	return bson.Raw(doc), docLen, nil
}
