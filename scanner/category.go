package scanner

import (
	"path/filepath"
	"strings"

	"github.com/use-agent/casescan/models"
)

// Category is a document type tracked by a scan. A page belongs to the
// category when its normalized text contains the normalized Keyword.
type Category struct {
	// Name identifies the category in results (e.g. "PERDIMENTO").
	Name string `json:"name"`

	// Slug is the file-name suffix of the rendered artifact.
	Slug string `json:"slug"`

	// Keyword is matched as a case-insensitive substring.
	Keyword string `json:"keyword"`
}

// Built-in categories, in priority order.
var (
	Perdimento = Category{
		Name:    "PERDIMENTO",
		Slug:    "perdimento",
		Keyword: "PERDIMENTO",
	}
	TransitoEmJulgado = Category{
		Name:    "TRANSITO_EM_JULGADO",
		Slug:    "transito_em_julgado",
		Keyword: "EM JULGADO",
	}
)

// DefaultCategories returns the built-in categories in priority order.
func DefaultCategories() []Category {
	return []Category{Perdimento, TransitoEmJulgado}
}

var newlineReplacer = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// Normalize collapses line breaks to spaces and upper-cases the text.
func Normalize(text string) string {
	return strings.ToUpper(newlineReplacer.Replace(text))
}

// Matches reports whether already-normalized page text contains the keyword.
func (c Category) Matches(normalized string) bool {
	return strings.Contains(normalized, Normalize(c.Keyword))
}

// OutputPath is the artifact location for a case and category. It only
// depends on its inputs, so a re-run overwrites the previous file.
func OutputPath(dir, caseID string, c Category) string {
	return filepath.Join(dir, caseID+"_"+c.Slug+".pdf")
}

// ValidateCategories rejects empty sets, blank fields and duplicates.
func ValidateCategories(categories []Category) error {
	if len(categories) == 0 {
		return models.InvalidInput("at least one category is required")
	}
	names := make(map[string]struct{}, len(categories))
	slugs := make(map[string]struct{}, len(categories))
	for i, c := range categories {
		if strings.TrimSpace(c.Name) == "" {
			return models.InvalidInput("category %d: name is empty", i)
		}
		if strings.TrimSpace(c.Keyword) == "" {
			return models.InvalidInput("category %s: keyword is empty", c.Name)
		}
		if c.Slug == "" || strings.ContainsAny(c.Slug, `/\`) {
			return models.InvalidInput("category %s: invalid slug %q", c.Name, c.Slug)
		}
		if _, dup := names[c.Name]; dup {
			return models.InvalidInput("duplicate category name %q", c.Name)
		}
		if _, dup := slugs[c.Slug]; dup {
			return models.InvalidInput("duplicate category slug %q", c.Slug)
		}
		names[c.Name] = struct{}{}
		slugs[c.Slug] = struct{}{}
	}
	return nil
}

// FromRules converts wire-level rules to categories, keeping order.
func FromRules(rules []models.CategoryRule) []Category {
	out := make([]Category, len(rules))
	for i, r := range rules {
		out[i] = Category{Name: r.Name, Slug: r.Slug, Keyword: r.Keyword}
	}
	return out
}
