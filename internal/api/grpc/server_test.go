package grpc

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/caflabs/substrate/internal/actor"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// newTestServer starts a transport server on an ephemeral local port backed
// by a fresh ActorSystem, returning both plus a dialed Client and a
// teardown function.
func newTestServer(t *testing.T) (*actor.ActorSystem, *Server, *Client) {
	t.Helper()

	system := actor.NewActorSystem()

	cfg := DefaultServerConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	server := NewServer(cfg, system)
	require.NoError(t, server.Start())

	conn, err := grpc.NewClient(
		server.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		server.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = system.Shutdown(ctx)
	})

	return system, server, NewClient(conn)
}

func TestRemoteTell(t *testing.T) {
	t.Parallel()

	system, _, client := newTestServer(t)

	received := make(chan float64, 1)
	target := system.SpawnEventActor(actor.NewBehavior(actor.Arm{
		Shape: []reflect.Type{reflect.TypeOf(0.0)},
		Handle: func(ctx context.Context, msg actor.Payload) (actor.Payload, error) {
			v, _ := msg.At(0)
			received <- v.(float64)
			return nil, nil
		},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := client.Tell(ctx, target.Address().ID, actor.NewPayload(7), false)
	require.NoError(t, err)

	select {
	case v := <-received:
		require.Equal(t, float64(7), v)
	case <-time.After(time.Second):
		t.Fatal("remote tell never reached the target actor")
	}
}

func TestRemoteAsk(t *testing.T) {
	t.Parallel()

	system, _, client := newTestServer(t)

	numType := reflect.TypeOf(0.0)
	target := system.SpawnEventActor(actor.NewBehavior(actor.Arm{
		Shape: []reflect.Type{numType, numType},
		Handle: func(ctx context.Context, msg actor.Payload) (actor.Payload, error) {
			a, _ := msg.At(0)
			b, _ := msg.At(1)
			return actor.NewPayload(a.(float64) + b.(float64)), nil
		},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	reply, err := client.Ask(
		ctx, target.Address().ID, actor.NewPayload(2, 3), false,
	)
	require.NoError(t, err)

	v, _ := reply.At(0)
	require.Equal(t, float64(5), v)
}

func TestRemoteAskNoSuchActor(t *testing.T) {
	t.Parallel()

	_, _, client := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := client.Ask(ctx, actor.ActorID(999999), actor.NewPayload(1), false)
	require.Error(t, err)
}
