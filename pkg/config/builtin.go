package config

// BuiltinConfig holds configurations that ship with the binary. User YAML
// entries with the same name override these.
type BuiltinConfig struct {
	LLMProviders       map[string]LLMProviderConfig
	DefaultLLMProvider string
}

// GetBuiltinConfig returns the built-in configuration. Prices are USD per
// million tokens and only feed budget accounting; override them in YAML
// when they drift.
func GetBuiltinConfig() *BuiltinConfig {
	return &BuiltinConfig{
		DefaultLLMProvider: "openai-default",
		LLMProviders: map[string]LLMProviderConfig{
			"openai-default": {
				Type:              LLMProviderTypeOpenAI,
				Model:             "gpt-4o",
				APIKeyEnv:         "OPENAI_API_KEY",
				InputCostPerMTok:  2.50,
				OutputCostPerMTok: 10.00,
			},
			"anthropic-default": {
				Type:              LLMProviderTypeAnthropic,
				Model:             "claude-sonnet-4-20250514",
				APIKeyEnv:         "ANTHROPIC_API_KEY",
				InputCostPerMTok:  3.00,
				OutputCostPerMTok: 15.00,
			},
		},
	}
}

// mergeLLMProviders merges built-in and user-defined LLM providers; a
// user entry replaces the built-in entry of the same name wholesale.
func mergeLLMProviders(builtin map[string]LLMProviderConfig, user map[string]LLMProviderConfig) map[string]*LLMProviderConfig {
	merged := make(map[string]*LLMProviderConfig, len(builtin)+len(user))
	for name := range builtin {
		cfg := builtin[name]
		merged[name] = &cfg
	}
	for name := range user {
		cfg := user[name]
		merged[name] = &cfg
	}
	return merged
}
