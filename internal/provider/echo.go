// Package provider holds model backend implementations. The concrete
// LLM SDK lives behind executor.Backend; the echo backend here is the
// built-in provider used for local development and tests.
package provider

import (
	"context"
	"io"

	"github.com/cloudwego/eino/schema"

	"github.com/dataagent-ai/dataagent/internal/executor"
)

// EchoBackend is a deterministic local backend: it streams the user's
// input back as assistant text. It implements no tools and raises no
// interrupts.
type EchoBackend struct{}

// NewEchoBackend creates the echo backend.
func NewEchoBackend() *EchoBackend { return &EchoBackend{} }

// Stream implements executor.Backend.
func (b *EchoBackend) Stream(_ context.Context, input executor.StreamInput) (executor.ChunkStream, error) {
	var text string
	for _, msg := range input.Messages {
		if msg.Role == schema.User {
			text = msg.Content
		}
	}
	return &echoStream{text: text}, nil
}

type echoStream struct {
	text string
	pos  int
}

func (s *echoStream) Recv() (*executor.Chunk, error) {
	defer func() { s.pos++ }()
	switch s.pos {
	case 0:
		return &executor.Chunk{
			Mode:    executor.ModeMessages,
			Message: &schema.Message{Role: schema.Assistant, Content: s.text},
		}, nil
	case 1:
		return &executor.Chunk{
			Mode:    executor.ModeMessages,
			Message: &schema.Message{Role: schema.Assistant},
			Last:    true,
		}, nil
	default:
		return nil, io.EOF
	}
}

func (s *echoStream) Close() {}
