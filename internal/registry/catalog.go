package registry

// DefaultCatalog returns the built-in model catalog. Production deployments
// sample slightly wider and apply mild repetition penalties.
func DefaultCatalog(environment string) []ModelConfig {
	topP, penalty := 0.8, 0.0
	if environment == "production" {
		topP, penalty = 0.95, 0.1
	}

	params := Parameters{
		Temperature:      0.2,
		MaxTokens:        2000,
		TopP:             topP,
		PresencePenalty:  penalty,
		FrequencyPenalty: penalty,
	}

	return []ModelConfig{
		{Name: "gpt-4o-mini", Parameters: params},
		{Name: "gpt-4o", Parameters: params},
	}
}
