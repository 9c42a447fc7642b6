// Package prompts contains every LLM prompt template nag sends.
//
// Prompt text is Go code rather than config because it is program logic:
// templates use fmt.Sprintf interpolation and are checked by tests.
//
// Convention: each prompt category gets its own file (analysis.go,
// dialogue.go, generation.go, replies.go) with exported functions that
// accept the dynamic parts and return the interpolated prompt. Response
// shapes for structured prompts live in schemas.go.
package prompts
