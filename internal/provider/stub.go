package provider

import (
	"context"
	"hash/fnv"
	"sync"
)

// StubProvider is a deterministic provider for tests and offline use.
// Chat replies with canned responses in order, then repeats the last one;
// Embed hashes the text into a stable vector.
type StubProvider struct {
	mu        sync.Mutex
	Responses []Response
	Err       error
	Calls     []string // last message content of each Chat call
}

func NewStubProvider(responses ...string) *StubProvider {
	p := &StubProvider{}
	for _, r := range responses {
		p.Responses = append(p.Responses, Response{
			Content: r,
			Usage:   Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
		})
	}
	if len(p.Responses) == 0 {
		p.Responses = []Response{{Content: "Summary of the conversation so far."}}
	}
	return p
}

func (m *StubProvider) Name() string {
	return "stub"
}

func (m *StubProvider) Chat(ctx context.Context, messages []Message) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}

	if len(messages) > 0 {
		m.Calls = append(m.Calls, messages[len(messages)-1].Content)
	}

	resp := m.Responses[0]
	if len(m.Responses) > 1 {
		m.Responses = m.Responses[1:]
	}
	return &resp, nil
}

func (m *StubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.Err != nil {
		m.mu.Unlock()
		return nil, m.Err
	}
	m.mu.Unlock()

	// Stable, content-dependent vector so search tests behave.
	vec := make([]float32, 8)
	h := fnv.New32a()
	for i := range vec {
		h.Write([]byte{byte(i)})
		h.Write([]byte(text))
		vec[i] = float32(h.Sum32()%1000) / 1000
	}
	return vec, nil
}
