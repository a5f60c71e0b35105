package server

import (
	"github.com/mockupdb/mockupdb/internal/matcher"
	"github.com/mockupdb/mockupdb/internal/message"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// registerAutoIsMaster installs the built-in handshake responder spec.md
// §4.F's auto_ismaster option asks for: any Command named ismaster/isMaster
// (and the OP_MSG-era alias hello) is answered without ever reaching the
// queue, the way a real mongod always completes the driver handshake.
// Repurposes wricardo-mongolite's cmdHello response shape, patched with the
// server's configured wire version range.
func (s *Server) registerAutoIsMaster() {
	var reply bson.D
	if d, ok := s.autoIsMaster.(bson.D); ok {
		reply = patchWireVersion(d, s.minWireVersion, s.maxWireVersion)
	} else {
		reply = patchWireVersion(defaultIsMasterReply(), s.minWireVersion, s.maxWireVersion)
	}

	for _, name := range []string{"ismaster", "isMaster", "hello"} {
		proto := message.NewCommand(name)
		s.autoresponders = append(s.autoresponders, &responder{
			matcher: matcher.New(proto),
			docs:    []bson.D{reply},
		})
	}
}

func defaultIsMasterReply() bson.D {
	return bson.D{
		{Key: "ismaster", Value: true},
		{Key: "maxBsonObjectSize", Value: int32(16777216)},
		{Key: "maxMessageSizeBytes", Value: int32(48000000)},
		{Key: "maxWriteBatchSize", Value: int32(100000)},
		{Key: "localTime", Value: nil},
		{Key: "logicalSessionTimeoutMinutes", Value: int32(30)},
		{Key: "connectionId", Value: int32(1)},
		{Key: "minWireVersion", Value: int32(0)},
		{Key: "maxWireVersion", Value: int32(21)},
		{Key: "readOnly", Value: false},
		{Key: "ok", Value: float64(1)},
	}
}

func patchWireVersion(doc bson.D, min, max int32) bson.D {
	if max == 0 {
		max = 21
	}
	out := make(bson.D, 0, len(doc))
	for _, e := range doc {
		switch e.Key {
		case "minWireVersion":
			out = append(out, bson.E{Key: e.Key, Value: min})
		case "maxWireVersion":
			out = append(out, bson.E{Key: e.Key, Value: max})
		default:
			out = append(out, e)
		}
	}
	return out
}
