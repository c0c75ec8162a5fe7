package unifiedllm

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID                   string   `json:"id"`
	Provider             string   `json:"provider"`
	DisplayName          string   `json:"display_name"`
	ContextWindow        int      `json:"context_window"`
	MaxOutput            *int     `json:"max_output,omitempty"`
	SupportsTools        bool     `json:"supports_tools"`
	SupportsVision       bool     `json:"supports_vision"`
	InputCostPerMillion  *float64 `json:"input_cost_per_million,omitempty"`
	OutputCostPerMillion *float64 `json:"output_cost_per_million,omitempty"`
	Aliases              []string `json:"aliases,omitempty"`
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

// FallbackModelID is the model offered when the configured model is not
// accessible with the current credentials.
const FallbackModelID = "gpt-3.5-turbo-1106"

// Models is the built-in model catalog. The first entry per provider is the
// preferred default.
var Models = []ModelInfo{
	// OpenAI
	{
		ID: "gpt-4o", Provider: "openai", DisplayName: "GPT-4o",
		ContextWindow: 128000, MaxOutput: intPtr(16384),
		SupportsTools: true, SupportsVision: true,
		InputCostPerMillion: floatPtr(2.50), OutputCostPerMillion: floatPtr(10.0),
		Aliases: []string{"4o"},
	},
	{
		ID: "gpt-4o-mini", Provider: "openai", DisplayName: "GPT-4o mini",
		ContextWindow: 128000, MaxOutput: intPtr(16384),
		SupportsTools: true, SupportsVision: true,
		InputCostPerMillion: floatPtr(0.15), OutputCostPerMillion: floatPtr(0.60),
		Aliases: []string{"4o-mini"},
	},
	{
		ID: "gpt-4-turbo", Provider: "openai", DisplayName: "GPT-4 Turbo",
		ContextWindow: 128000, MaxOutput: intPtr(4096),
		SupportsTools: true, SupportsVision: true,
		InputCostPerMillion: floatPtr(10.0), OutputCostPerMillion: floatPtr(30.0),
		Aliases: []string{"gpt-4-1106-preview"},
	},
	{
		ID: "gpt-4", Provider: "openai", DisplayName: "GPT-4",
		ContextWindow: 8192, MaxOutput: intPtr(4096),
		SupportsTools: true,
		InputCostPerMillion: floatPtr(30.0), OutputCostPerMillion: floatPtr(60.0),
	},
	{
		ID: FallbackModelID, Provider: "openai", DisplayName: "GPT-3.5 Turbo (1106)",
		ContextWindow: 16000, MaxOutput: intPtr(4096),
		SupportsTools: true,
		InputCostPerMillion: floatPtr(1.0), OutputCostPerMillion: floatPtr(2.0),
		Aliases: []string{"gpt-3.5-turbo", "gpt-3.5"},
	},

	// Anthropic (text-only streaming through gollm)
	{
		ID: "claude-3-5-sonnet-latest", Provider: "anthropic", DisplayName: "Claude 3.5 Sonnet",
		ContextWindow: 200000, MaxOutput: intPtr(8192),
		SupportsVision: true,
		InputCostPerMillion: floatPtr(3.0), OutputCostPerMillion: floatPtr(15.0),
		Aliases: []string{"sonnet", "claude-sonnet"},
	},
	{
		ID: "claude-3-5-haiku-latest", Provider: "anthropic", DisplayName: "Claude 3.5 Haiku",
		ContextWindow: 200000, MaxOutput: intPtr(8192),
		InputCostPerMillion: floatPtr(0.80), OutputCostPerMillion: floatPtr(4.0),
		Aliases: []string{"haiku", "claude-haiku"},
	},

	// Local OpenAI-compatible servers; free and of unknown capability.
	{
		ID: "local", Provider: "local", DisplayName: "Local model",
		ContextWindow: 3000, MaxOutput: intPtr(1000),
	},
}

// GetModelInfo returns the catalog entry for a model, or nil if unknown.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// ListModels returns all known models, optionally filtered by provider.
func ListModels(provider string) []ModelInfo {
	if provider == "" {
		result := make([]ModelInfo, len(Models))
		copy(result, Models)
		return result
	}
	var result []ModelInfo
	for _, m := range Models {
		if m.Provider == provider {
			result = append(result, m)
		}
	}
	return result
}

// GetLatestModel returns the first (preferred) model for a provider,
// optionally filtered by capability ("vision" or "tools").
func GetLatestModel(provider string, capability string) *ModelInfo {
	for i := range Models {
		if Models[i].Provider != provider {
			continue
		}
		switch capability {
		case "":
			return &Models[i]
		case "vision":
			if Models[i].SupportsVision {
				return &Models[i]
			}
		case "tools":
			if Models[i].SupportsTools {
				return &Models[i]
			}
		}
	}
	return nil
}

// FallbackModel returns the catalog entry for FallbackModelID.
func FallbackModel() ModelInfo {
	return *GetModelInfo(FallbackModelID)
}
