// Package llm provides language model clients for semantic invoice-to-estimate
// matching. It supports OpenAI and Anthropic providers, with retry logic, rate
// limiting, and token usage accounting.
package llm
