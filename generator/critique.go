package generator

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

const (
	ApprovalSentinel  = "PASS"
	RejectionSentinel = "NEEDS_IMPROVEMENT"
)

// DefaultFeedback is used whenever a rejection carries no usable text, and
// for a first-round approval that said nothing beyond the sentinel.
const DefaultFeedback = "Strengthen the draft: sharpen the opening, make every sentence earn its place, " +
	"add one concrete example, and end with a clear takeaway while staying within the sentence limit."

// Verdict is the editor's decision on one draft.
// Feedback is set iff Approved is false.
type Verdict struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
	// Comment is any text that came with an approval.
	Comment string `json:"comment,omitempty"`
}

// Interpreter turns a raw editor response into a Verdict. Implementations
// never fail: unrecognised input becomes a rejection with the raw text as
// feedback.
type Interpreter interface {
	Interpret(raw string) Verdict
}

// SentinelInterpreter reads free-text critiques containing PASS or
// NEEDS_IMPROVEMENT, case-insensitively. By default any occurrence of the
// approval sentinel approves the draft. Strict mode only accepts it as a
// whole word placed before any rejection marker.
type SentinelInterpreter struct {
	approve *regexp.Regexp
	reject  *regexp.Regexp
	strict  bool
}

// NewSentinelInterpreter builds an interpreter for the given sentinels; empty
// arguments select ApprovalSentinel / RejectionSentinel.
func NewSentinelInterpreter(approve, reject string, strict bool) *SentinelInterpreter {
	if approve == "" {
		approve = ApprovalSentinel
	}
	if reject == "" {
		reject = RejectionSentinel
	}
	pattern := `(?i)` + regexp.QuoteMeta(approve)
	if strict {
		pattern = `(?i)\b` + regexp.QuoteMeta(approve) + `\b`
	}
	return &SentinelInterpreter{
		approve: regexp.MustCompile(pattern),
		reject:  regexp.MustCompile(`(?i)` + regexp.QuoteMeta(reject)),
		strict:  strict,
	}
}

func (s *SentinelInterpreter) Interpret(raw string) Verdict {
	approveAt := s.approve.FindStringIndex(raw)
	rejectAt := s.reject.FindStringIndex(raw)

	if approveAt != nil && (!s.strict || rejectAt == nil || approveAt[0] < rejectAt[0]) {
		return Verdict{Approved: true, Comment: s.comment(raw, approveAt)}
	}
	if rejectAt == nil {
		return rejected(raw)
	}
	if fb := trimLead(raw[rejectAt[1]:]); fb != "" {
		return Verdict{Feedback: fb}
	}
	return Verdict{Feedback: DefaultFeedback}
}

// comment is the text following a leading sentinel, or the whole response
// when the sentinel sits elsewhere.
func (s *SentinelInterpreter) comment(raw string, at []int) string {
	leading := strings.TrimSpace(raw[:at[0]]) == ""
	if leading && (at[1] == len(raw) || !isWordByte(raw[at[1]])) {
		return trimLead(raw[at[1]:])
	}
	return strings.TrimSpace(raw)
}

func isWordByte(b byte) bool {
	return b == '_' || '0' <= b && b <= '9' || 'a' <= b && b <= 'z' || 'A' <= b && b <= 'Z'
}

// StructuredInterpreter reads a JSON verdict {"approved": bool, "feedback": string}
// as returned by the remote critique service.
type StructuredInterpreter struct{}

func (StructuredInterpreter) Interpret(raw string) Verdict {
	var body struct {
		Approved *bool  `json:"approved"`
		Feedback string `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &body); err != nil || body.Approved == nil {
		return rejected(raw)
	}
	fb := strings.TrimSpace(body.Feedback)
	if *body.Approved {
		return Verdict{Approved: true, Comment: fb}
	}
	if fb == "" {
		fb = DefaultFeedback
	}
	return Verdict{Feedback: fb}
}

// rejected keeps the whole response as feedback.
func rejected(raw string) Verdict {
	if strings.TrimSpace(raw) == "" {
		return Verdict{Feedback: DefaultFeedback}
	}
	return Verdict{Feedback: raw}
}

func trimLead(s string) string {
	return strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(s), ":-–—.!,"))
}

// Critique is the outcome of one evaluation call.
type Critique struct {
	Verdict Verdict
	Prompt  Prompt
	Reply   Completion
	// Measured is false when the call happened somewhere we cannot meter,
	// e.g. a remote critique service.
	Measured bool
}

// Critic is the critique channel: a local editor model or a remote service.
type Critic interface {
	Critique(ctx context.Context, draft string, ceiling int) (Critique, error)
}

// EditorCritic asks an editor TextGenerator for a free-text verdict.
type EditorCritic struct {
	llm    TextGenerator
	interp Interpreter
}

// NewEditorCritic wires the editor model; a nil interp selects the sentinel strategy.
func NewEditorCritic(llm TextGenerator, interp Interpreter) (*EditorCritic, error) {
	if llm == nil {
		return nil, errors.New("editor llm client is required")
	}
	if interp == nil {
		interp = NewSentinelInterpreter("", "", false)
	}
	return &EditorCritic{llm: llm, interp: interp}, nil
}

func (e *EditorCritic) Critique(ctx context.Context, draft string, ceiling int) (Critique, error) {
	prompt := BuildEvaluationPrompt(draft, ceiling)
	reply, err := e.llm.Generate(ctx, prompt)
	if err != nil {
		return Critique{}, err
	}
	return Critique{
		Verdict:  e.interp.Interpret(reply.Text),
		Prompt:   prompt,
		Reply:    reply,
		Measured: true,
	}, nil
}
