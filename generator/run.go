package generator

// run 持有一次主题生成的全部状态，只属于执行 Loop.Run 的 goroutine，不共享也无需加锁。
type run struct {
	id       string
	topic    string
	draft    Draft
	round    int
	drafts   int
	feedback []string
	metrics  Metrics
}

func (r *run) setDraft(d Draft) {
	r.draft = d
	r.drafts++
}

// appendFeedback records the editor's feedback for the current round.
func (r *run) appendFeedback(feedback string) {
	r.feedback = append(r.feedback, feedback)
}

func (r *run) result(approved bool, model string, mode UsageMode) *Result {
	feedback := make([]string, len(r.feedback))
	copy(feedback, r.feedback)
	return &Result{
		Content:    r.draft.Content,
		Title:      r.draft.Title,
		Iterations: r.round,
		Drafts:     r.drafts,
		Approved:   approved,
		Metrics:    r.metrics,
		UsageMode:  mode,
		ModelName:  model,
		Feedback:   feedback,
	}
}
