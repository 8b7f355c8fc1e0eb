package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog is the vocabulary offered in the add-movie and browse dialogs.
type Catalog struct {
	Categories      []string `yaml:"categories"`
	Languages       []string `yaml:"languages"`
	Qualities       []string `yaml:"qualities"`
	DefaultCategory string   `yaml:"default_category"`
	DefaultLanguage string   `yaml:"default_language"`
}

func DefaultCatalog() *Catalog {
	return &Catalog{
		Categories: []string{
			"General", "Bollywood", "Hollywood", "South Indian", "Web Series",
			"Bengali", "Anime & Cartoon", "Comedy", "Action", "Romance",
			"Horror", "Thriller", "Sci-Fi", "K-Drama",
		},
		Languages:       []string{"English", "Bengali", "Hindi", "Tamil", "Telugu", "Korean", "Gujarati"},
		Qualities:       []string{"480p", "720p", "1080p"},
		DefaultCategory: "General",
		DefaultLanguage: "English",
	}
}

// LoadCatalog reads path; a missing file yields the built-in catalog.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultCatalog(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog %s: %w", path, err)
	}
	return &c, nil
}

func (c *Catalog) applyDefaults() {
	d := DefaultCatalog()
	if c.DefaultCategory == "" {
		c.DefaultCategory = d.DefaultCategory
	}
	if c.DefaultLanguage == "" {
		c.DefaultLanguage = d.DefaultLanguage
	}
	if len(c.Categories) == 0 {
		c.Categories = d.Categories
	}
	if len(c.Languages) == 0 {
		c.Languages = d.Languages
	}
	if len(c.Qualities) == 0 {
		c.Qualities = d.Qualities
	}
	if c.CategoryIndex(c.DefaultCategory) < 0 {
		c.Categories = append([]string{c.DefaultCategory}, c.Categories...)
	}
}

func (c *Catalog) validate() error {
	seen := make(map[string]bool, len(c.Categories))
	for _, name := range c.Categories {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return fmt.Errorf("empty category name")
		}
		if seen[key] {
			return fmt.Errorf("duplicate category %q", name)
		}
		seen[key] = true
	}
	return nil
}

// CategoryIndex finds name case-insensitively, -1 when absent.
func (c *Catalog) CategoryIndex(name string) int {
	name = strings.TrimSpace(name)
	for i, cat := range c.Categories {
		if strings.EqualFold(cat, name) {
			return i
		}
	}
	return -1
}
