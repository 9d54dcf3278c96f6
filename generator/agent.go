package generator

import (
	"context"
	"errors"
)

// Writer 负责根据主题生成首稿，或根据编辑反馈修订稿件。
type Writer struct {
	llm         TextGenerator
	stripMarkup bool
}

func NewWriter(llm TextGenerator, stripMarkup bool) (*Writer, error) {
	if llm == nil {
		return nil, errors.New("writer llm client is required")
	}
	return &Writer{llm: llm, stripMarkup: stripMarkup}, nil
}

// Model names the writer's backing model.
func (w *Writer) Model() string {
	return w.llm.Model()
}

// Generate 根据是否存在 prev 决定首稿或修订流程，并返回实际发送的提示词以便调用方计量。
func (w *Writer) Generate(ctx context.Context, topic string, ceiling int, prev *Draft, feedback string) (Draft, Prompt, Completion, error) {
	var prompt Prompt
	version := 1
	if prev == nil {
		prompt = BuildInitialPrompt(topic, ceiling)
	} else {
		prompt = BuildRefinementPrompt(feedback, prev.Content, ceiling)
		version = prev.Version + 1
	}

	reply, err := w.llm.Generate(ctx, prompt)
	if err != nil {
		return Draft{}, prompt, Completion{}, err
	}
	draft, err := PostProcess(reply.Text, version, w.stripMarkup)
	if err != nil {
		return Draft{}, prompt, reply, err
	}
	return draft, prompt, reply, nil
}
