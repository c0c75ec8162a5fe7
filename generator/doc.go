// Package generator connects the response loop to language models.
//
// Router implements agentloop.Generator on top of a unifiedllm.Client. It
// converts the conversation into provider messages, trims the oldest turns
// to fit the context window, and turns the provider stream back into
// message deltas. Models with tool calling write code through an execute
// function whose JSON arguments are decoded while they stream; other models
// answer in markdown and the first fenced code block is extracted instead.
package generator
