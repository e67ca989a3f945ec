package config

// DefaultPrompt is the instruction handed to the external tool. The file path
// is appended by the invoker.
const DefaultPrompt = `Analyze this markdown document and suggest 2-5 relevant one word tags that describe the topic, technology, or type of content.

Requirements:
- Tags must be single words only (no spaces)
- Tags must be lowercase
- Tags should be relevant and descriptive
- Use the same language as the document content (if document is in Norwegian, use Norwegian tags; if in English, use English tags; etc.)
- Examples:
  - English: python, debugging, react, tutorial, planning
  - Norwegian: programmering, feilsøking, veiledning, planlegging
  - German: programmierung, fehlersuche, anleitung, planung

Open the markdown file and at the end of the file add these tags. Each tag should be on a new line surrounded by [[]] like [[tag]]. Do not remove the existing [[claude]] tag if it exists.`

// ExecutionConfig configures the external tagging tool.
type ExecutionConfig struct {
	// Binary is the external tool executable
	Binary string `yaml:"binary"`

	// Prompt is the natural-language tagging instruction
	Prompt string `yaml:"prompt"`

	// AllowedTools restricts the tool to read/edit capabilities
	AllowedTools string `yaml:"allowed_tools"`

	// ExtraArgs are appended after the standard arguments
	ExtraArgs []string `yaml:"extra_args,omitempty"`

	// Timeout bounds a single invocation
	Timeout string `yaml:"timeout"`

	// Environment variables passed through to the tool (nil passes everything)
	AllowedEnvVars []string `yaml:"allowed_env_vars,omitempty"`

	// Env sets extra KEY=VALUE variables for the tool
	Env []string `yaml:"env,omitempty"`
}

// Args returns the command-line arguments for one invocation.
func (e ExecutionConfig) Args(prompt string) []string {
	args := []string{"-p", prompt}
	if e.AllowedTools != "" {
		args = append(args, "--allowedTools="+e.AllowedTools)
	}
	return append(args, e.ExtraArgs...)
}
