package pubsub

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "catalog-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPublishUsesDefaultTopic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, srv := newTestClient(t)
	_, err := client.CreateTopic(ctx, "crawl-events")
	require.NoError(t, err)

	pub, err := New(client, "crawl-events")
	require.NoError(t, err)
	defer pub.Close()

	id, err := pub.Publish(ctx, "", map[string]string{"kind": "crawl:start"}, map[string]string{"target_id": "t-1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.JSONEq(t, `{"kind":"crawl:start"}`, string(msgs[0].Data))
	require.Equal(t, "t-1", msgs[0].Attributes["target_id"])
}

func TestPublishRequiresTopic(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	pub, err := New(client, "")
	require.NoError(t, err)
	_, err = pub.Publish(context.Background(), "", struct{}{}, nil)
	require.Error(t, err)

	_, err = New(nil, "x")
	require.Error(t, err)
}
