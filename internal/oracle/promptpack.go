package oracle

import (
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// promptPackFile is the on-disk override format. Every field is optional;
// empty fields keep the built-in template.
type promptPackFile struct {
	CategorizeSystem string `yaml:"categorize_system"`
	CategorizeUser   string `yaml:"categorize_user"`
	EntitiesSystem   string `yaml:"entities_system"`
	EntitiesUser     string `yaml:"entities_user"`
	ConflictSystem   string `yaml:"conflict_system"`
	ConflictUser     string `yaml:"conflict_user"`
	AnswerSystem     string `yaml:"answer_system"`
}

// LoadPromptPack applies overrides from a YAML file onto the prompt set.
// Called at startup and again on file change events; a bad pack leaves the
// current templates untouched.
func (p *PromptSet) LoadPromptPack(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read prompt pack: %w", err)
	}

	var pack promptPackFile
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return fmt.Errorf("failed to parse prompt pack: %w", err)
	}

	// Validate placeholder counts before touching live templates so a
	// partial override never leaves a broken Sprintf template behind.
	checks := []struct {
		name  string
		value string
		want  int
	}{
		{"categorize_user", pack.CategorizeUser, 1},
		{"entities_user", pack.EntitiesUser, 1},
		{"conflict_user", pack.ConflictUser, 2},
	}
	for _, c := range checks {
		if c.value == "" {
			continue
		}
		if got := strings.Count(c.value, "%s"); got != c.want {
			return fmt.Errorf("prompt pack %s: expected %d %%s placeholders, found %d", c.name, c.want, got)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	applied := 0
	if pack.CategorizeSystem != "" {
		p.categorizeSystem = pack.CategorizeSystem
		applied++
	}
	if pack.CategorizeUser != "" {
		p.categorizeUser = pack.CategorizeUser
		applied++
	}
	if pack.EntitiesSystem != "" {
		p.entitiesSystem = pack.EntitiesSystem
		applied++
	}
	if pack.EntitiesUser != "" {
		p.entitiesUser = pack.EntitiesUser
		applied++
	}
	if pack.ConflictSystem != "" {
		p.conflictSystem = pack.ConflictSystem
		applied++
	}
	if pack.ConflictUser != "" {
		p.conflictUser = pack.ConflictUser
		applied++
	}
	if pack.AnswerSystem != "" {
		p.answerSystem = pack.AnswerSystem
		applied++
	}

	log.Printf("📦 Prompt pack loaded from %s (%d overrides)", path, applied)
	return nil
}
