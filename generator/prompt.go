package generator

import (
	"fmt"
	"strings"
)

// Prompt 表示发送给 LLM 的消息。
type Prompt struct {
	System string
	User   string
}

// DefaultSentenceCeiling is the maximum sentence count asked of every draft.
const DefaultSentenceCeiling = 15

// BuildInitialPrompt 生成首稿提示词。
func BuildInitialPrompt(topic string, ceiling int) Prompt {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Write a well-structured, engaging blog post about \"%s\".\n", topic))
	sb.WriteString("The post should have a clear introduction, body paragraphs, and conclusion.\n")
	sb.WriteString("Include relevant examples and keep a conversational yet professional tone.\n\n")
	sb.WriteString("IMPORTANT FORMATTING REQUIREMENTS:\n")
	writeFormatRules(&sb, ceiling)

	return Prompt{
		System: "You are a professional blog writer. Output only the blog post, no commentary.",
		User:   sb.String(),
	}
}

// BuildEvaluationPrompt asks the editor for a PASS / NEEDS_IMPROVEMENT verdict.
func BuildEvaluationPrompt(draft string, ceiling int) Prompt {
	var sb strings.Builder
	sb.WriteString("Evaluate the following blog draft and respond with either:\n")
	sb.WriteString(fmt.Sprintf("%s - if the draft is exceptional, well-written, engaging, and complete\n", ApprovalSentinel))
	sb.WriteString(fmt.Sprintf("%s - followed by specific, actionable feedback on what to improve\n\n", RejectionSentinel))
	sb.WriteString("Focus on:\n")
	sb.WriteString("- Clarity and flow of ideas\n")
	sb.WriteString("- Engagement and reader interest\n")
	sb.WriteString("- Professional yet conversational tone\n")
	sb.WriteString("- Structure and organization\n")
	sb.WriteString(fmt.Sprintf("- Strict adherence to the %d-sentence maximum length\n\n", ceiling))
	sb.WriteString("IMPORTANT EVALUATION RULES:\n")
	sb.WriteString(fmt.Sprintf("1. Count the sentences carefully. A draft with more than %d sentences must receive %s.\n", ceiling, RejectionSentinel))
	sb.WriteString("2. Be thorough and make every piece of feedback actionable.\n")
	sb.WriteString("3. Do not rewrite the draft yourself.\n\n")
	sb.WriteString("Draft:\n")
	sb.WriteString(draft)
	sb.WriteString("\n")

	return Prompt{
		System: "You are a critical blog editor with extremely high standards.",
		User:   sb.String(),
	}
}

// BuildRefinementPrompt 生成修订提示词。
func BuildRefinementPrompt(feedback, draft string, ceiling int) Prompt {
	var sb strings.Builder
	sb.WriteString("Improve the following blog draft based on this editorial feedback:\n\n")
	sb.WriteString("Feedback: ")
	sb.WriteString(feedback)
	sb.WriteString("\n\nCurrent Draft:\n")
	sb.WriteString(draft)
	sb.WriteString("\n\nIMPORTANT REQUIREMENTS:\n")
	sb.WriteString("- Maintain a clear introduction, body, and conclusion structure.\n")
	writeFormatRules(&sb, ceiling)
	sb.WriteString("- Provide the complete improved version while addressing the feedback.\n")

	return Prompt{
		System: "You are a professional blog writer revising your own draft. Output only the revised post.",
		User:   sb.String(),
	}
}

func writeFormatRules(sb *strings.Builder, ceiling int) {
	sb.WriteString("- Format as plain text only (no Markdown, HTML, or special formatting).\n")
	sb.WriteString("- Use simple ASCII characters only.\n")
	sb.WriteString("- Put the title on the first line in ALL CAPS instead of using \"#\" symbols.\n")
	sb.WriteString("- Separate paragraphs with blank lines.\n")
	sb.WriteString(fmt.Sprintf("- The post must contain NO MORE THAN %d SENTENCES in total. Count them before answering.\n", ceiling))
}
