package ai

import (
	"context"
	"errors"
	"sync"
	"time"
)

// FakeReply is one scripted answer of a FakeReasoningClient
type FakeReply struct {
	Response *RawResponse
	Err      error
	Delay    time.Duration // honored unless the context ends first
	Panic    bool
}

// FakeReasoningClient replays scripted replies in order. Once the script is
// exhausted the last reply repeats.
type FakeReasoningClient struct {
	mu       sync.Mutex
	replies  []FakeReply
	requests []*AnalysisRequest
}

// NewFakeReasoningClient creates a fake with the given script
func NewFakeReasoningClient(replies ...FakeReply) *FakeReasoningClient {
	return &FakeReasoningClient{replies: replies}
}

// Analyze returns the next scripted reply
func (f *FakeReasoningClient) Analyze(ctx context.Context, req *AnalysisRequest) (*RawResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	var reply FakeReply
	switch {
	case len(f.replies) == 0:
		reply = FakeReply{Err: errors.New("fake reasoning client has no scripted replies")}
	case len(f.requests) <= len(f.replies):
		reply = f.replies[len(f.requests)-1]
	default:
		reply = f.replies[len(f.replies)-1]
	}
	f.mu.Unlock()

	if reply.Panic {
		panic("scripted panic")
	}
	if reply.Delay > 0 {
		select {
		case <-time.After(reply.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return reply.Response, reply.Err
}

// Requests returns the requests received so far
func (f *FakeReasoningClient) Requests() []*AnalysisRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*AnalysisRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// Calls returns how many times Analyze was invoked
func (f *FakeReasoningClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}
