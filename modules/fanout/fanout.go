// Package fanout delivers one envelope to a set of room members.
package fanout

import (
	"encoding/json"
	"fmt"

	"github.com/example/collab-realtime/domain/collab"
	"github.com/example/collab-realtime/modules/registry"
	"github.com/example/collab-realtime/modules/transport"
)

// Resolver looks up live connections.
type Resolver interface {
	Resolve(id collab.ConnectionID) (registry.Connection, error)
}

// Result summarizes a fan-out.
type Result struct {
	Delivered int
	// Dropped recipients were alive but too slow; the frame was discarded
	// for them only.
	Dropped []collab.ConnectionID
	// Stale recipients are listed as members but no longer registered.
	Stale []collab.ConnectionID
	// Failed recipients have a closed or broken transport.
	Failed []collab.ConnectionID
}

// Deliver sends env to every id except skip. Failures are collected per
// recipient and never stop delivery to the others.
func Deliver(conns Resolver, ids []collab.ConnectionID, skip collab.ConnectionID, env collab.Envelope, class transport.Class) Result {
	var res Result
	for _, id := range ids {
		if id == skip {
			continue
		}
		conn, err := conns.Resolve(id)
		if err != nil {
			res.Stale = append(res.Stale, id)
			continue
		}
		switch err := conn.Transport.Send(env, class); {
		case err == nil:
			res.Delivered++
		case transport.IsDrop(err):
			res.Dropped = append(res.Dropped, id)
		default:
			res.Failed = append(res.Failed, id)
		}
	}
	return res
}

// Enrich merges the sender attribution into a client payload object. An empty
// payload becomes an object holding only the attribution.
func Enrich(payload json.RawMessage, messageID string, sender collab.Identity, senderID collab.ConnectionID) (json.RawMessage, error) {
	fields := make(map[string]json.RawMessage)
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, fmt.Errorf("%w: payload must be a JSON object", collab.ErrInvalidMessage)
		}
	}

	senderJSON, err := json.Marshal(sender)
	if err != nil {
		return nil, err
	}
	connJSON, err := json.Marshal(senderID)
	if err != nil {
		return nil, err
	}
	fields["sender"] = senderJSON
	fields["connectionId"] = connJSON
	if messageID != "" {
		idJSON, err := json.Marshal(messageID)
		if err != nil {
			return nil, err
		}
		fields["id"] = idJSON
	}
	return json.Marshal(fields)
}
