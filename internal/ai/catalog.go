// Package ai provides the model catalog and streaming generation backends.
package ai

import (
	"fmt"
	"sort"
)

// Provider identifiers accepted on the wire.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
	ProviderBedrock   = "bedrock"
)

// Capability is an optional model feature a request may ask for.
type Capability string

const (
	CapabilityWebSearch       Capability = "webSearch"
	CapabilityImageGeneration Capability = "imageGeneration"
	CapabilityReasoning       Capability = "reasoning"
)

// Model is one catalog entry. The catalog is the single source of truth
// for which (provider, model) pairs the server will talk to.
type Model struct {
	Provider     string
	ID           string
	Label        string
	Capabilities []Capability
}

// Can reports whether the model supports a capability.
func (m Model) Can(c Capability) bool {
	for _, have := range m.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

var catalog = []Model{
	{Provider: ProviderOpenAI, ID: "gpt-3.5-turbo", Label: "GPT-3.5 Turbo", Capabilities: []Capability{CapabilityWebSearch}},
	{Provider: ProviderOpenAI, ID: "gpt-4o", Label: "GPT-4o", Capabilities: []Capability{CapabilityWebSearch}},
	{Provider: ProviderOpenAI, ID: "gpt-4o-mini", Label: "GPT-4o Mini", Capabilities: []Capability{CapabilityWebSearch}},
	{Provider: ProviderOpenAI, ID: "o3-mini", Label: "O3 Mini", Capabilities: []Capability{CapabilityReasoning}},
	{Provider: ProviderOpenAI, ID: "dall-e-2", Label: "Dall-E 2", Capabilities: []Capability{CapabilityImageGeneration}},

	{Provider: ProviderAnthropic, ID: "claude-3-5-haiku-latest", Label: "Claude 3.5 Haiku"},
	{Provider: ProviderAnthropic, ID: "claude-3-5-sonnet-latest", Label: "Claude 3.5 Sonnet"},
	{Provider: ProviderAnthropic, ID: "claude-3-7-sonnet-20250219", Label: "Claude 3.7 Sonnet", Capabilities: []Capability{CapabilityReasoning}},

	{Provider: ProviderGoogle, ID: "gemini-1.5-flash", Label: "Gemini 1.5 Flash", Capabilities: []Capability{CapabilityWebSearch}},
	{Provider: ProviderGoogle, ID: "gemini-2.0-flash", Label: "Gemini 2.0 Flash", Capabilities: []Capability{CapabilityWebSearch}},

	{Provider: ProviderBedrock, ID: "anthropic.claude-3-5-sonnet-20240620-v1:0", Label: "Claude 3.5 Sonnet (Bedrock)"},
	{Provider: ProviderBedrock, ID: "anthropic.claude-3-haiku-20240307-v1:0", Label: "Claude 3 Haiku (Bedrock)"},
}

// Lookup resolves a (provider, model) pair against the catalog.
func Lookup(provider, model string) (Model, error) {
	for _, m := range catalog {
		if m.Provider == provider && m.ID == model {
			return m, nil
		}
	}
	return Model{}, fmt.Errorf("unknown model %q for provider %q", model, provider)
}

// Validate checks a (provider, model) pair and that it supports every
// requested capability. Requests for models outside the catalog or for
// capabilities the model lacks are rejected before any provider call.
func Validate(provider, model string, required ...Capability) (Model, error) {
	m, err := Lookup(provider, model)
	if err != nil {
		return Model{}, err
	}
	for _, c := range required {
		if !m.Can(c) {
			return Model{}, fmt.Errorf("model %q does not support %s", model, c)
		}
	}
	return m, nil
}

// Models returns the catalog grouped by provider, providers sorted by name.
func Models() map[string][]Model {
	out := make(map[string][]Model)
	for _, m := range catalog {
		out[m.Provider] = append(out[m.Provider], m)
	}
	return out
}

// Providers returns the sorted list of known provider ids.
func Providers() []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range catalog {
		if !seen[m.Provider] {
			seen[m.Provider] = true
			out = append(out, m.Provider)
		}
	}
	sort.Strings(out)
	return out
}
