// Package mock provides a scriptable mock implementation of the
// [llm.Provider] interface for unit tests.
//
// Tests queue one scripted stream per expected StreamCompletion call; each
// call pops the next script and replays its chunks on the returned channel,
// honouring context cancellation between chunks.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/parley-ai/parley/pkg/provider/llm"
)

// Stream is one scripted StreamCompletion response.
type Stream struct {
	// Chunks are emitted in order on the returned channel.
	Chunks []llm.Chunk

	// ChunkDelay, when non-zero, is slept before each chunk. Use to simulate
	// generation pacing in cancellation tests.
	ChunkDelay time.Duration

	// StartError, when non-nil, is returned by StreamCompletion instead of a
	// channel.
	StartError error
}

// Provider is a mock [llm.Provider]. Queue scripts with Enqueue before use.
// When the queue is empty, StreamCompletion returns an immediately closed
// channel (an empty completion).
type Provider struct {
	mu       sync.Mutex
	scripts  []Stream
	requests []llm.CompletionRequest
}

var _ llm.Provider = (*Provider)(nil)

// Enqueue appends scripted streams to be consumed by subsequent calls.
func (p *Provider) Enqueue(streams ...Stream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts = append(p.scripts, streams...)
}

// Requests returns every CompletionRequest received, in order.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

// StreamCompletion implements [llm.Provider].
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	var script Stream
	if len(p.scripts) > 0 {
		script = p.scripts[0]
		p.scripts = p.scripts[1:]
	}
	p.mu.Unlock()

	if script.StartError != nil {
		return nil, script.StartError
	}

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		for _, c := range script.Chunks {
			if script.ChunkDelay > 0 {
				select {
				case <-time.After(script.ChunkDelay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete implements [llm.Provider] by draining a scripted stream.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	ch, err := p.StreamCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	resp := &llm.CompletionResponse{}
	for c := range ch {
		resp.Content += c.Text
		resp.ToolCalls = append(resp.ToolCalls, c.ToolCalls...)
	}
	return resp, nil
}
