// rpc.go correlates outbound requests with their response packets by
// requestId.
package stream

import (
	"fmt"
	"sync"

	"mtcloud-sdk/pkg/types"
)

type rpcResult struct {
	response *types.TradeResponse
	err      error
}

// correlator maps in-flight request ids to their waiting callers. Each
// pending channel has capacity 1 so delivery never blocks the read loop.
type correlator struct {
	mu      sync.Mutex
	pending map[string]chan rpcResult
}

func newCorrelator() *correlator {
	return &correlator{pending: make(map[string]chan rpcResult)}
}

// register creates a pending slot for a request id.
func (c *correlator) register(requestID string) chan rpcResult {
	ch := make(chan rpcResult, 1)
	c.mu.Lock()
	c.pending[requestID] = ch
	c.mu.Unlock()
	return ch
}

// forget drops a pending slot; used when the caller gives up waiting.
func (c *correlator) forget(requestID string) {
	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()
}

// deliver resolves the pending slot for a response or error packet. Packets
// for unknown ids (already timed out) are dropped.
func (c *correlator) deliver(p Packet) {
	c.mu.Lock()
	ch, ok := c.pending[p.RequestID]
	if ok {
		delete(c.pending, p.RequestID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if p.Type == packetError {
		ch <- rpcResult{err: fmt.Errorf("request %s failed: %s: %s", p.RequestID, p.Error, p.Message)}
		return
	}
	ch <- rpcResult{response: p.Response}
}
