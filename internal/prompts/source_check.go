package prompts

// SourceCheck is the system prompt of the llm-source-check extension.
const SourceCheck = "source-check"

func registerBuiltins(r *Registry) {
	r.Register(&Prompt{
		ID:          SourceCheck,
		Version:     V1,
		Description: "Judge whether a submitted source file meets a criteria text",
		Vars:        []string{"criteria"},
		Content: `You should check the source code provided and make sure it meets the following criteria: {{criteria}}.
Answer only in the json format: { "result": boolean, "reason": string }`,
	})
}
