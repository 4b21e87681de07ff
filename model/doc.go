// Package model defines the provider-neutral LLM boundary agents generate
// through: a flat chat message shape, unified tool-call structures, and the
// Model interface. Provider adapters live in the subpackages anthropic and
// openai; MockModel serves tests and examples.
package model
