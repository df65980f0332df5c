package websocket

import (
	"testing"
	"time"

	"ai-daemon/internal/pkg/logger"
	"ai-daemon/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func fullClient(t *testing.T, wait time.Duration) *Client {
	t.Helper()
	c := newClient(nil, nil, logger.NewNopLogger())
	c.sendWait = wait
	for i := 0; i < sendBuffer; i++ {
		require.NoError(t, c.Send(protocol.Chunk("x", "claude")))
	}
	return c
}

func TestClientSendWaitsForRoom(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := fullClient(t, 5*time.Second)

	result := make(chan error, 1)
	go func() { result <- c.Send(protocol.Done()) }()

	select {
	case err := <-result:
		t.Fatalf("Send returned %v while the buffer was full", err)
	case <-time.After(50 * time.Millisecond):
	}

	<-c.send
	require.NoError(t, <-result)

	var last []byte
	for len(c.send) > 0 {
		last = <-c.send
	}
	assert.JSONEq(t, `{"type":"done"}`, string(last), "the terminal event is queued, not dropped")
}

func TestClientSendDisconnectsStalledReader(t *testing.T) {
	c := fullClient(t, 20*time.Millisecond)

	err := c.Send(protocol.Done())
	assert.ErrorIs(t, err, ErrSlowClient)

	select {
	case <-c.quit:
	default:
		t.Fatal("a stalled client must be told to stop")
	}
	assert.ErrorIs(t, c.Send(protocol.Done()), ErrClientClosed)
}

func TestClientCloseReleasesWaitingSend(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := fullClient(t, 5*time.Second)

	result := make(chan error, 1)
	go func() { result <- c.Send(protocol.Done()) }()
	time.Sleep(20 * time.Millisecond)

	c.closeSend()
	c.closeSend()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrClientClosed)
	case <-time.After(time.Second):
		t.Fatal("Send still blocked after close")
	}
}
