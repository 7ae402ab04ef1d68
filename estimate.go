package metergate

// EstimateTokens provides a rough token count estimate for messages.
// Uses the approximation: ~4 chars per token + overhead per message.
func EstimateTokens(messages []Message) int64 {
	var total int64
	for _, m := range messages {
		total += int64(len(m.Content)) / 4
		total += 4
	}
	total += 3
	return total
}

// EstimateTextTokens estimates tokens for raw text at ~4 chars per token.
func EstimateTextTokens(s string) int64 {
	return int64(len(s)) / 4
}

// estimateRequestTokens estimates the prompt size of a request.
func estimateRequestTokens(req GenerateRequest) int64 {
	if len(req.Messages) > 0 {
		return EstimateTokens(req.Messages)
	}
	return EstimateTextTokens(req.Prompt)
}

// fillUsage substitutes length-based estimates when an adapter reported no
// usage, so that a served request is never billed at zero tokens.
func fillUsage(u Usage, prompt, content string) Usage {
	if u.PromptTokens == 0 && u.CompletionTokens == 0 {
		u.PromptTokens = EstimateTextTokens(prompt)
		u.CompletionTokens = EstimateTextTokens(content)
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}
