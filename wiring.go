package main

import (
	"fmt"
	"net/http"

	"golang.org/x/time/rate"

	"blog_writer_agent/config"
	"blog_writer_agent/critic"
	"blog_writer_agent/generator"
	"blog_writer_agent/logger"
	"blog_writer_agent/metrics"
)

// buildLoop wires writer, editor and instrumentation from cfg. The returned
// critic is the local editor, or nil when critiques go to a remote service.
func buildLoop(cfg *config.Config) (*generator.Loop, generator.Critic, error) {
	httpClient := generator.NewHTTPClient(cfg.HTTP.ConnectTimeout, cfg.HTTP.ReadTimeout)

	var limiter *rate.Limiter
	if cfg.LLM.RequestsPerSecond > 0 {
		// shared by both roles: they usually hit the same provider account
		limiter = rate.NewLimiter(rate.Limit(cfg.LLM.RequestsPerSecond), cfg.LLM.Burst)
	}

	writerLLM, err := buildLLM(cfg.WriterSettings(), httpClient, mockWriter)
	if err != nil {
		return nil, nil, fmt.Errorf("writer: %w", err)
	}
	writer, err := generator.NewWriter(generator.Throttle(writerLLM, limiter), cfg.Loop.StripMarkup)
	if err != nil {
		return nil, nil, err
	}

	var (
		critique generator.Critic
		local    generator.Critic
	)
	switch cfg.Editor.Mode {
	case config.EditorRemote:
		critique, err = critic.New(cfg.Editor.RemoteURL, httpClient, nil, critic.WithTimeout(cfg.LLM.RequestTimeout))
		if err != nil {
			return nil, nil, err
		}
		logger.Default().Info("using remote critique service", "url", cfg.Editor.RemoteURL)
	default:
		editorLLM, err := buildLLM(cfg.EditorSettings(), httpClient, mockEditor)
		if err != nil {
			return nil, nil, fmt.Errorf("editor: %w", err)
		}
		interp := generator.NewSentinelInterpreter("", "", cfg.Loop.StrictSentinels)
		local, err = generator.NewEditorCritic(generator.Throttle(editorLLM, limiter), interp)
		if err != nil {
			return nil, nil, err
		}
		critique = local
	}

	opts := cfg.LoopOptions()
	opts.Observer = metrics.Recorder{}
	loop, err := generator.NewLoop(writer, critique, opts)
	if err != nil {
		return nil, nil, err
	}
	return loop, local, nil
}

func buildLLM(s *generator.LLMSettings, httpClient *http.Client, mock func() *generator.MockLLM) (generator.TextGenerator, error) {
	s.HTTPClient = httpClient
	switch s.Provider {
	case config.ProviderOpenAI:
		return generator.NewOpenAILLMFromConfig(s)
	case config.ProviderDeepSeek:
		// DeepSeek 提供 OpenAI 兼容接口，需填写 base_url（例如官方/网关地址）。
		if s.BaseURL == "" {
			return nil, fmt.Errorf("llm provider deepseek requires base_url (OpenAI-compatible endpoint)")
		}
		return generator.NewOpenAILLMFromConfig(s)
	case config.ProviderAnthropic:
		return generator.NewAnthropicLLMFromConfig(s)
	case config.ProviderMock:
		return mock(), nil
	default:
		return nil, fmt.Errorf("llm provider %s not supported", s.Provider)
	}
}

// 本地调试用的 mock：首稿被退回一次，修订稿通过。
func mockWriter() *generator.MockLLM {
	return &generator.MockLLM{Name: "mock-writer"}
}

func mockEditor() *generator.MockLLM {
	return &generator.MockLLM{
		Name:      "mock-editor",
		Responses: []string{"NEEDS_IMPROVEMENT: add a concrete example.", "PASS"},
	}
}
