package generator

import (
	"fmt"
	"unicode/utf8"
)

// CharsPerUnit is the fixed conversion used when usage is estimated from text
// length: roughly four characters per token. It is an approximation, not a
// tokenizer.
const CharsPerUnit = 4

// UsageMode selects where a run's usage numbers come from. A run never mixes
// the two.
type UsageMode string

const (
	// UsageEstimate derives units from prompt/response length for every call.
	UsageEstimate UsageMode = "estimate"
	// UsageProvider uses provider-reported token counts; calls that report
	// nothing contribute zero.
	UsageProvider UsageMode = "provider"
)

func ParseUsageMode(s string) (UsageMode, error) {
	switch UsageMode(s) {
	case "", UsageEstimate:
		return UsageEstimate, nil
	case UsageProvider:
		return UsageProvider, nil
	default:
		return "", fmt.Errorf("unknown usage mode %q (want estimate or provider)", s)
	}
}

// Usage counts the units spent on one generation call.
type Usage struct {
	PromptUnits     int64 `json:"promptUnits"`
	CompletionUnits int64 `json:"completionUnits"`
}

// Metrics is the running sum of Usage over a run. Total is always derived.
type Metrics struct {
	PromptUnits     int64 `json:"promptUnits"`
	CompletionUnits int64 `json:"completionUnits"`
}

func (m *Metrics) Add(u Usage) {
	m.PromptUnits += u.PromptUnits
	m.CompletionUnits += u.CompletionUnits
}

func (m Metrics) Total() int64 {
	return m.PromptUnits + m.CompletionUnits
}

// EstimateUnits converts text length to usage units, rounding up so any
// non-empty text costs at least one unit.
func EstimateUnits(text string) int64 {
	n := int64(utf8.RuneCountInString(text))
	return (n + CharsPerUnit - 1) / CharsPerUnit
}

// measure returns the usage to book for one call under mode.
func measure(mode UsageMode, prompt Prompt, c Completion) Usage {
	if mode == UsageProvider {
		if !c.Reported {
			return Usage{}
		}
		return c.Usage
	}
	return Usage{
		PromptUnits:     EstimateUnits(prompt.System) + EstimateUnits(prompt.User),
		CompletionUnits: EstimateUnits(c.Text),
	}
}
