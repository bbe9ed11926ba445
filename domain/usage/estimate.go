// Package usage provides pure token-cost estimation for AI operations.
// Estimates gate whether an operation is attempted at all; the actual cost
// reported by the model is what gets debited afterwards.
package usage

import "strings"

// charsPerToken is the rough character-to-token ratio used when no real
// tokenizer is available.
const charsPerToken = 4

// EstimateText returns a conservative token estimate for a block of text.
// This is a PURE function. Returns at least 1 for non-empty input.
func EstimateText(text string) int64 {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	n := int64((len(trimmed) + charsPerToken - 1) / charsPerToken)
	if n < 1 {
		n = 1
	}
	return n
}

// EstimateOperation estimates the total cost of an AI call from its input,
// assuming the output is at most as long as the input. This is a PURE function.
func EstimateOperation(input string) int64 {
	in := EstimateText(input)
	return in * 2
}

// Cost combines reported input and output token counts, falling back to an
// estimate when the model did not report usage. This is a PURE function.
func Cost(reportedIn, reportedOut int64, input string) int64 {
	if reportedIn > 0 || reportedOut > 0 {
		return reportedIn + reportedOut
	}
	return EstimateOperation(input)
}
