package generator

// Draft is one version of the post. A refinement produces a new Draft; the
// previous one is never modified.
type Draft struct {
	Version int    `json:"version"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Result is the immutable outcome of a run.
type Result struct {
	Content string `json:"content"`
	Title   string `json:"title"`
	// Iterations counts editor rounds, between 1 and the iteration limit.
	Iterations int `json:"iterations"`
	// Drafts counts writer calls. It exceeds Iterations by one when the run
	// ran out of rounds, because the last feedback is still applied.
	Drafts    int       `json:"drafts"`
	Approved  bool      `json:"approved"`
	Metrics   Metrics   `json:"metrics"`
	UsageMode UsageMode `json:"usageMode"`
	ModelName string    `json:"modelName"`
	// Feedback holds one entry per rejected round, in round order.
	Feedback []string `json:"feedback"`
}
