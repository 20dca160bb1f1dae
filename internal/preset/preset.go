// Package preset manages user-defined model presets: named bundles of
// provider, model, system prompt, and sampling settings the chat UI
// offers as selectable "models".
package preset

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/parlorhq/parlor/internal/llm"
)

// Preset is one user-defined model configuration.
type Preset struct {
	ID           string     `yaml:"id" json:"id"`
	Name         string     `yaml:"name" json:"name"`
	Provider     string     `yaml:"provider" json:"provider"`
	Model        string     `yaml:"model" json:"model"`
	SystemPrompt string     `yaml:"system_prompt" json:"system_prompt,omitempty"`
	Temperature  *float64   `yaml:"temperature" json:"temperature,omitempty"`
	Thinking     bool       `yaml:"thinking" json:"thinking,omitempty"`
	Effort       llm.Effort `yaml:"effort" json:"effort,omitempty"`
}

// registryFile is the on-disk YAML shape.
type registryFile struct {
	Presets []Preset `yaml:"presets"`
}

// Registry is a file-backed preset collection, safe for concurrent use.
type Registry struct {
	path string

	mu      sync.RWMutex
	presets []Preset
}

// LoadRegistry reads the preset file at path. A missing file is an
// empty registry, not an error; it is created on first Put.
func LoadRegistry(path string) (*Registry, error) {
	r := &Registry{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	r.presets = file.Presets
	return r, nil
}

// List returns all presets in file order.
func (r *Registry) List() []Preset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Preset, len(r.presets))
	copy(out, r.presets)
	return out
}

// Get returns the preset with the given id.
func (r *Registry) Get(id string) (Preset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.presets {
		if p.ID == id {
			return p, nil
		}
	}
	return Preset{}, fmt.Errorf("unknown preset %q", id)
}

// Put inserts or replaces a preset by id and persists the registry.
func (r *Registry) Put(p Preset) error {
	if p.ID == "" {
		return fmt.Errorf("preset id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	replaced := false
	for i := range r.presets {
		if r.presets[i].ID == p.ID {
			r.presets[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		r.presets = append(r.presets, p)
	}
	return r.save()
}

// Delete removes a preset by id and persists the registry. Deleting an
// unknown id is an error.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.presets {
		if r.presets[i].ID == id {
			r.presets = append(r.presets[:i], r.presets[i+1:]...)
			return r.save()
		}
	}
	return fmt.Errorf("unknown preset %q", id)
}

// save writes the registry to disk. Callers hold the write lock.
func (r *Registry) save() error {
	data, err := yaml.Marshal(registryFile{Presets: r.presets})
	if err != nil {
		return fmt.Errorf("marshal presets: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0600); err != nil {
		return fmt.Errorf("write presets: %w", err)
	}
	return nil
}

// Apply builds a chat request from a preset and the conversation so
// far. The preset's system prompt, when present, becomes the leading
// system message. The caller's slice is copied, never mutated.
func Apply(p Preset, messages []llm.Message) llm.ChatRequest {
	msgs := make([]llm.Message, 0, len(messages)+1)
	if p.SystemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: p.SystemPrompt})
	}
	msgs = append(msgs, messages...)

	return llm.ChatRequest{
		Model:       p.Model,
		Messages:    msgs,
		Temperature: p.Temperature,
		Thinking:    p.Thinking,
		Effort:      p.Effort,
	}
}
