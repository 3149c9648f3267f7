package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherRecordsMessages(t *testing.T) {
	t.Parallel()

	p := New()
	attrs := map[string]string{"kind": "crawl:success"}
	id, err := p.Publish(context.Background(), "events", "payload", attrs)
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)
	attrs["kind"] = "mutated"

	msgs := p.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "events", msgs[0].Topic)
	require.Equal(t, "crawl:success", msgs[0].Attributes["kind"])

	p.FailWith(errors.New("offline"))
	_, err = p.Publish(context.Background(), "events", "x", nil)
	require.Error(t, err)
	require.Len(t, p.Messages(), 1)
}
