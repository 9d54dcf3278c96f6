package generator

import (
	"context"
	"net"
	"net/http"
	"time"
)

// TextGenerator 抽象大模型客户端，写作与编辑角色各持有一个实例，便于替换/Mock。
type TextGenerator interface {
	Generate(ctx context.Context, prompt Prompt) (Completion, error)
	// Model 返回底层模型名称，写入运行结果。
	Model() string
}

// Completion is one generated response plus the provider's usage counters.
type Completion struct {
	Text  string
	Usage Usage
	// Reported is false when the provider returned no token counts.
	Reported bool
}

// LLMSettings 提供给具体实现的基础配置。
type LLMSettings struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	MaxTokens  int64
	MaxRetries int
	// RequestTimeout bounds each SDK request attempt.
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// NewHTTPClient returns the client shared by every provider and the remote critic.
// connect bounds dialing; read bounds the wait for response headers.
func NewHTTPClient(connect, read time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   connect,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = connect
	transport.ResponseHeaderTimeout = read
	transport.MaxIdleConnsPerHost = 16
	return &http.Client{Transport: transport}
}
