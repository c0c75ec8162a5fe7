// Package unifiedllm provides a provider-agnostic streaming LLM client.
//
// # Architecture
//
// The package follows a three-layer architecture:
//
//   - Layer 1 (Provider contract): ProviderAdapter interface and shared types
//   - Layer 2 (Provider Utilities): Retry logic, error classification, budget accounting
//   - Layer 3 (Core Client): Client with provider routing and middleware
//
// # Adapters
//
// OpenAIAdapter streams chat completions through go-openai, including
// incremental tool-call arguments. NewLocalAdapter points the same adapter at
// an OpenAI-compatible server on localhost.
//
// GollmAdapter wraps gollm.LLM for providers that are only used for plain
// text generation.
//
//	adapter := unifiedllm.NewOpenAIAdapter("openai", os.Getenv("OPENAI_API_KEY"))
//	client := unifiedllm.NewClient(unifiedllm.WithProvider("openai", adapter))
//
//	events, _ := client.Stream(ctx, unifiedllm.Request{
//	    Model:    "gpt-4o",
//	    Messages: []unifiedllm.Message{unifiedllm.UserMessage("Hello")},
//	})
//	for ev := range events {
//	    fmt.Print(ev.Delta)
//	}
//
// # Budget
//
// BudgetMiddleware prices each finished stream from the model catalog and
// refuses new requests with a BudgetExceededError once the limit is reached:
//
//	tracker := unifiedllm.NewCostTracker(0.50)
//	client.Use(unifiedllm.BudgetMiddleware(tracker))
package unifiedllm
