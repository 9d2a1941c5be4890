package grpc

import (
	"context"
	"fmt"

	"github.com/caflabs/substrate/internal/actor"
	"github.com/sony/gobreaker"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client speaks the transport's Tell/Ask RPCs against a remote node,
// guarding every call with a circuit breaker (transport_breaker.go) so a
// wedged peer degrades to fast failures instead of stalling every caller
// behind this connection.
type Client struct {
	conn    *grpc.ClientConn
	breaker *gobreaker.CircuitBreaker
}

// NewClient wraps an already-dialed connection. Callers own conn's
// lifecycle (dialing and closing it).
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn, breaker: newTransportBreaker()}
}

// Tell fires payload at the remote actor identified by target, not waiting
// for it to be processed.
func (c *Client) Tell(ctx context.Context, target actor.ActorID,
	payload actor.Payload, urgent bool,
) error {
	req, err := encodeRequest(target, payload, urgent)
	if err != nil {
		return err
	}

	_, err = c.breaker.Execute(func() (any, error) {
		resp := new(structpb.Struct)
		err := c.conn.Invoke(ctx, tellFullMethod, req, resp)
		return resp, err
	})
	return err
}

// Ask sends payload to the remote actor identified by target and blocks
// until its reply arrives or ctx's deadline elapses.
func (c *Client) Ask(ctx context.Context, target actor.ActorID,
	payload actor.Payload, urgent bool,
) (actor.Payload, error) {
	req, err := encodeRequest(target, payload, urgent)
	if err != nil {
		return nil, err
	}

	resp, err := c.breaker.Execute(func() (any, error) {
		out := new(structpb.Struct)
		err := c.conn.Invoke(ctx, askFullMethod, req, out)
		return out, err
	})
	if err != nil {
		return nil, fmt.Errorf("remote ask to actor %d: %w", target, err)
	}

	reply := resp.(*structpb.Struct)
	return slotsToPayload(reply.GetFields()["slots"].GetListValue()), nil
}
