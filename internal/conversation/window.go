package conversation

// PromptWindowTurns caps how many previous turns are sent with a new message.
const PromptWindowTurns = 5

const DefaultSystemPrompt = "You are a kind and polite assistant. Answer the user's questions accurately and appropriately."

// BuildPromptWindow returns the system instruction, at most the last PromptWindowTurns
// previous turns in chronological order, and the new user turn.
func BuildPromptWindow(systemPrompt string, previous []Turn, newUserText string) []Turn {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	recent := previous
	if len(recent) > PromptWindowTurns {
		recent = recent[len(recent)-PromptWindowTurns:]
	}
	out := make([]Turn, 0, len(recent)+2)
	out = append(out, Turn{Role: RoleSystem, Content: systemPrompt})
	out = append(out, recent...)
	out = append(out, Turn{Role: RoleUser, Content: newUserText})
	return out
}
