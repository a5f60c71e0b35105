package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/google/uuid"
	"github.com/mockupdb/mockupdb/internal/message"
	"github.com/mockupdb/mockupdb/internal/mockerr"
	"github.com/mockupdb/mockupdb/internal/wire"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// conn is one accepted socket's worker: it runs the read loop of
// spec.md §4.E and implements message.Client so a Request can reply or
// hang up without the message package importing server.
type conn struct {
	id  uuid.UUID
	nc  net.Conn
	srv *Server
}

// serve reads framed requests until the connection resets, the listener
// closes it from Stop, or ctx is cancelled. A responder panic recovered by
// runDispatch terminates just this connection, per spec.md §7's
// UserResponderError row.
func (c *conn) serve(ctx context.Context) {
	defer c.nc.Close()
	r := bufio.NewReader(c.nc)

	for {
		if ctx.Err() != nil {
			return
		}

		hdr, err := wire.ReadHeader(r)
		if err != nil {
			if !isCleanClose(err) {
				c.srv.log.Warn("read header", zap.Error(err), zap.Stringer("conn", c.id))
			}
			return
		}

		frame, err := wire.ReadBody(r, hdr)
		if err != nil {
			var unsupported *mockerr.UnsupportedOpcodeError
			if errors.As(err, &unsupported) {
				c.srv.log.Warn("unsupported opcode", zap.Error(err), zap.Stringer("conn", c.id))
			} else {
				c.srv.log.Warn("wire parse error", zap.Error(err), zap.Stringer("conn", c.id))
			}
			return
		}

		req, err := message.FromFrame(frame)
		if err != nil {
			c.srv.log.Warn("malformed request", zap.Error(err), zap.Stringer("conn", c.id))
			return
		}
		req = req.WithClient(c, c.srv)
		c.srv.LogRequest(req)

		if !c.runDispatch(req) {
			return
		}
	}
}

// runDispatch calls the server's dispatch and recovers a responder panic
// so it terminates only this connection. The panic is wrapped as a
// *mockerr.UserResponderError and handed to the server, which surfaces it
// from the next Receives/Autoresponds call rather than swallowing it.
func (c *conn) runDispatch(req *message.Request) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.srv.noteResponderError(c.id, &mockerr.UserResponderError{Err: fmt.Errorf("%v", r)})
			ok = false
		}
	}()
	c.srv.dispatch(req)
	return true
}

func isCleanClose(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF)
}

// WriteReply implements message.Client.
func (c *conn) WriteReply(responseTo int32, opts wire.ReplyOptions, docs []bson.D) error {
	defer c.srv.noteReplied(responseTo)
	return wire.WriteReply(c.nc, responseTo, opts, docs)
}

// WriteMsg implements message.Client.
func (c *conn) WriteMsg(responseTo int32, flagBits uint32, doc bson.D) error {
	defer c.srv.noteReplied(responseTo)
	return wire.WriteMsg(c.nc, responseTo, flagBits, doc)
}

// Hangup implements message.Client: it closes the socket without a reply,
// causing the peer to observe a connection reset (spec.md §8 scenario 4).
func (c *conn) Hangup() error {
	return c.nc.Close()
}
