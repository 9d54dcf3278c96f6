package generator

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockLLM 一个简单的占位实现，便于本地调试，不调用外部模型。
// 按顺序返回 Responses，用尽后重复最后一条；未设置时生成一篇回显提示词的纯文本短文。
type MockLLM struct {
	Name      string
	Responses []string
	// Errs fails the call with the given 0-based index.
	Errs map[int]error

	mu    sync.Mutex
	calls []Prompt
}

func (m *MockLLM) Model() string {
	if m.Name == "" {
		return "mock"
	}
	return m.Name
}

func (m *MockLLM) Generate(_ context.Context, prompt Prompt) (Completion, error) {
	m.mu.Lock()
	n := len(m.calls)
	m.calls = append(m.calls, prompt)
	m.mu.Unlock()

	if err, ok := m.Errs[n]; ok {
		return Completion{}, err
	}
	if len(m.Responses) == 0 {
		return Completion{Text: echoPost(prompt, n)}, nil
	}
	idx := n
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	return Completion{Text: m.Responses[idx]}, nil
}

// Calls returns the prompts received so far.
func (m *MockLLM) Calls() []Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Prompt, len(m.calls))
	copy(out, m.calls)
	return out
}

func echoPost(prompt Prompt, n int) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("SAMPLE POST, REVISION %d\n\n", n+1))
	sb.WriteString("This is a locally generated placeholder post.\n\n")
	first, _, _ := strings.Cut(strings.TrimSpace(prompt.User), "\n")
	sb.WriteString(first)
	sb.WriteString("\n")
	return sb.String()
}
