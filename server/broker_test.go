package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/viant/mcpserver/jsonrpc"
	"github.com/viant/mcpserver/schema"
	"github.com/viant/mcpserver/store"
	"github.com/viant/mcpserver/stream"
)

func TestBroker_SweeperStopsCleanly(t *testing.T) {
	defer goleak.VerifyNone(t)

	broker := NewBroker(store.NewMemoryStore(), stream.NewMemoryManager(), 20*time.Millisecond, nil, nil)
	session, err := broker.Create(context.Background())
	require.Nil(t, err)

	assert.Eventually(t, func() bool {
		_, err := broker.Lookup(context.Background(), session.ID())
		return jsonrpc.StatusOf(err) == 404
	}, 2*time.Second, 10*time.Millisecond, "idle session swept")

	broker.Stop()
}

func TestBroker_StopWithoutSweeper(t *testing.T) {
	defer goleak.VerifyNone(t)
	broker := NewBroker(store.NewMemoryStore(), stream.NewMemoryManager(), 0, nil, nil)
	broker.Stop()
}

func TestBroker_ResumeFromStore(t *testing.T) {
	sessions := store.NewMemoryStore()
	streams := stream.NewMemoryManager()
	first := NewBroker(sessions, streams, time.Hour, nil, nil)
	defer first.Stop()

	session, err := first.Create(context.Background())
	require.Nil(t, err)
	session.beginInitialize("2025-06-18",
		schema.Implementation{Name: "client", Version: "1.0"},
		schema.ClientCapabilities{Sampling: &schema.SamplingCapability{}},
		schema.ServerCapabilities{Logging: &schema.LoggingCapability{}})
	session.completeInitialize()
	require.Nil(t, first.Persist(context.Background(), session))

	// a second broker over the same store stands in for another node
	second := NewBroker(sessions, streams, time.Hour, nil, nil)
	defer second.Stop()

	resumed, err := second.Lookup(context.Background(), session.ID())
	require.Nil(t, err)
	assert.Equal(t, StateReady, resumed.State())
	assert.Equal(t, "2025-06-18", resumed.ProtocolVersion())
	assert.Equal(t, session.ClientInfo(), resumed.ClientInfo())
}

func TestBroker_TerminateIdempotent(t *testing.T) {
	broker := NewBroker(store.NewMemoryStore(), stream.NewMemoryManager(), time.Hour, nil, nil)
	defer broker.Stop()

	session, err := broker.Create(context.Background())
	require.Nil(t, err)
	broker.Terminate(context.Background(), session.ID())
	broker.Terminate(context.Background(), session.ID())
	broker.Terminate(context.Background(), "never-existed")

	_, err = broker.Lookup(context.Background(), session.ID())
	assert.Equal(t, 404, jsonrpc.StatusOf(err))
}
