package rpc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memorall/core/internal/errkind"
)

// recordingSender captures every Request handed to Send; a test drives
// Correlator.Deliver itself to simulate the transport's read side.
type recordingSender struct {
	mu   sync.Mutex
	sent []*Request
}

func (s *recordingSender) Send(ctx context.Context, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, req)
	return nil
}

func (s *recordingSender) last() *Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1]
}

func TestCorrelatorDeliversMatchingResponse(t *testing.T) {
	c := NewCorrelator(time.Second, nil)
	sender := &recordingSender{}

	type result struct {
		resp *Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := c.Call(context.Background(), sender, &Request{Op: OpHealth})
		done <- result{resp, err}
	}()

	require.Eventually(t, func() bool {
		return len(sender.sent) == 1
	}, time.Second, time.Millisecond)

	c.Deliver(&Response{ID: sender.last().ID})
	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, sender.last().ID, r.resp.ID)
}

func TestCorrelatorDropsResponseForUnknownID(t *testing.T) {
	c := NewCorrelator(time.Second, nil)
	// No pending call registered for id 123; Deliver must not panic or block.
	c.Deliver(&Response{ID: 123})
}

func TestCorrelatorTimesOutWhenNoResponseArrives(t *testing.T) {
	c := NewCorrelator(20*time.Millisecond, nil)
	sender := &recordingSender{}

	_, err := c.Call(context.Background(), sender, &Request{Op: OpHealth})
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.RpcTimeout))
}

func TestCorrelatorAbortFailsAllPendingCalls(t *testing.T) {
	c := NewCorrelator(time.Second, nil)
	sender := &recordingSender{}

	type result struct {
		resp *Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := c.Call(context.Background(), sender, &Request{Op: OpHealth})
		done <- result{resp, err}
	}()

	require.Eventually(t, func() bool {
		return len(sender.sent) == 1
	}, time.Second, time.Millisecond)

	c.Abort()
	r := <-done
	require.NoError(t, r.err)
	require.NotNil(t, r.resp.Error)
	assert.Equal(t, string(errkind.TransportClosed), r.resp.Error.Kind)
}

func TestCorrelatorNextRequestIDSkipsZero(t *testing.T) {
	c := NewCorrelator(time.Second, nil)
	c.nextID = ^uint32(0) // next increment wraps to 0, must be skipped
	id := c.nextRequestID()
	assert.NotEqual(t, uint32(0), id)
}
