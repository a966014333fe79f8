// Package staging prepares what the analysis job reads at runtime: the prompt
// configuration parameter and the script assets in the staging bucket
package staging

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PromptType names what a prompt asks the knowledge base to produce
type PromptType string

// Prompt types understood by the analysis script
const (
	PromptQuestions     PromptType = "questions"
	PromptDocumentation PromptType = "documentation"
	PromptAntiPatterns  PromptType = "anti-patterns"
	PromptImprovements  PromptType = "improvements"
)

// ParameterRefScheme prefixes prompt configuration references handed to the job
const ParameterRefScheme = "ssm:"

// Prompt is one entry of the prompt configuration
type Prompt struct {
	Prompt string     `json:"prompt"`
	Type   PromptType `json:"type"`
}

// DefaultPrompts returns the prompt set distributed when none is configured
func DefaultPrompts() []Prompt {
	return []Prompt{
		{
			Type: PromptQuestions,
			Prompt: "Come up with a list of questions and answers about the attached file. " +
				"Keep answers dense with information. " +
				"A good question for a database related file would be 'What is the database technology and architecture?' " +
				"or for a file that executes SQL commands 'What are the SQL commands and what do they do?' " +
				"or for a file that contains a list of API endpoints 'What are the API endpoints and what do they do?'",
		},
		{
			Type: PromptDocumentation,
			Prompt: "Generate comprehensive documentation about the attached file. " +
				"Make sure you include what dependencies and other files are being referenced " +
				"as well as function names, class names, and what they do.",
		},
		{
			Type: PromptAntiPatterns,
			Prompt: "Identify anti-patterns in the attached file. Make sure to include examples of how to fix them. " +
				"Try Q&A like 'What are some anti-patterns in the file?' or 'What could be causing high latency?'",
		},
		{
			Type: PromptImprovements,
			Prompt: "Suggest improvements to the attached file. " +
				"Try Q&A like 'What are some ways to improve the file?' or 'Where can the file be optimized?'",
		},
	}
}

// ValidatePrompts checks that every prompt has text and a known type
func ValidatePrompts(prompts []Prompt) error {
	if len(prompts) == 0 {
		return fmt.Errorf("prompt configuration is empty")
	}
	for i, p := range prompts {
		switch p.Type {
		case PromptQuestions, PromptDocumentation, PromptAntiPatterns, PromptImprovements:
		default:
			return fmt.Errorf("prompt %d has unknown type %q", i, p.Type)
		}
		if strings.TrimSpace(p.Prompt) == "" {
			return fmt.Errorf("prompt %d (%s) has no text", i, p.Type)
		}
	}
	return nil
}

// EncodePrompts renders the ordered prompt array stored in the parameter
func EncodePrompts(prompts []Prompt) (string, error) {
	if err := ValidatePrompts(prompts); err != nil {
		return "", err
	}
	data, err := json.Marshal(prompts)
	if err != nil {
		return "", fmt.Errorf("failed to marshal prompts: %w", err)
	}
	return string(data), nil
}

// DecodePrompts parses a prompt configuration document
func DecodePrompts(value string) ([]Prompt, error) {
	var prompts []Prompt
	if err := json.Unmarshal([]byte(value), &prompts); err != nil {
		return nil, fmt.Errorf("failed to parse prompt configuration: %w", err)
	}
	if err := ValidatePrompts(prompts); err != nil {
		return nil, err
	}
	return prompts, nil
}

// ParameterRef builds the reference the job uses to locate the prompt parameter
func ParameterRef(parameterName string) string {
	return ParameterRefScheme + parameterName
}

// ParameterName extracts the parameter name from a prompt configuration reference
func ParameterName(ref string) (string, error) {
	name, ok := strings.CutPrefix(ref, ParameterRefScheme)
	if !ok || name == "" {
		return "", fmt.Errorf("prompt configuration reference %q must look like %s<parameter-name>", ref, ParameterRefScheme)
	}
	return name, nil
}
