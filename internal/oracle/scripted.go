package oracle

import (
	"context"
	"errors"
	"sync"
)

// ErrScriptExhausted is returned when a Scripted oracle runs out of replies.
var ErrScriptExhausted = errors.New("scripted oracle: no replies left")

// Reply is one queued Scripted response.
type Reply struct {
	Judgment Judgment
	Err      error
	// Block, when set, makes Judge wait until the channel closes or ctx ends.
	Block <-chan struct{}
}

// Scripted replays a fixed queue of replies in order. It records every call.
type Scripted struct {
	mu      sync.Mutex
	replies []Reply
	calls   []ScriptedCall
}

// ScriptedCall records the arguments of one Judge call.
type ScriptedCall struct {
	Image        []byte
	Instructions string
}

// NewScripted returns an oracle that answers with replies in order.
func NewScripted(replies ...Reply) *Scripted {
	return &Scripted{replies: replies}
}

// Pass is shorthand for a successful reply.
func Pass(confidence float64, reasoning string) Reply {
	return Reply{Judgment: Judgment{Success: true, Reasoning: reasoning, Confidence: confidence}}
}

// Fail is shorthand for a negative reply.
func Fail(confidence float64, reasoning string) Reply {
	return Reply{Judgment: Judgment{Success: false, Reasoning: reasoning, Confidence: confidence}}
}

// Push appends replies to the queue.
func (s *Scripted) Push(replies ...Reply) {
	s.mu.Lock()
	s.replies = append(s.replies, replies...)
	s.mu.Unlock()
}

// Calls returns a copy of the recorded calls.
func (s *Scripted) Calls() []ScriptedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScriptedCall, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *Scripted) Judge(ctx context.Context, image []byte, instructions string) (Judgment, error) {
	s.mu.Lock()
	s.calls = append(s.calls, ScriptedCall{Image: append([]byte(nil), image...), Instructions: instructions})
	if len(s.replies) == 0 {
		s.mu.Unlock()
		return Judgment{}, ErrScriptExhausted
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	s.mu.Unlock()

	if reply.Block != nil {
		select {
		case <-reply.Block:
		case <-ctx.Done():
			return Judgment{}, ctx.Err()
		}
	}
	if reply.Err != nil {
		return Judgment{}, reply.Err
	}
	j := reply.Judgment
	j.Confidence = clampConfidence(j.Confidence)
	return j, nil
}

var _ Oracle = (*Scripted)(nil)
