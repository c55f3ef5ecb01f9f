package scanner

import "github.com/use-agent/casescan/models"

// Artifact is the PDF rendered for a category.
type Artifact struct {
	Category  string
	Path      string
	SourceURL string
	LinkIndex int // 1-based position in scan order
}

// Result is the observable outcome of a scan: at most one artifact per
// category. Categories without an artifact were not found.
type Result struct {
	CaseID     string
	Artifacts  map[string]Artifact
	LinksTotal int
	Fetched    int

	order []string
}

func newResult(caseID string, categories []Category, total int) *Result {
	order := make([]string, len(categories))
	for i, c := range categories {
		order[i] = c.Name
	}
	return &Result{
		CaseID:     caseID,
		Artifacts:  make(map[string]Artifact, len(categories)),
		LinksTotal: total,
		order:      order,
	}
}

// Path returns the artifact path of a category, if one was produced.
func (r *Result) Path(category string) (string, bool) {
	a, ok := r.Artifacts[category]
	return a.Path, ok
}

// Complete reports whether every category was found.
func (r *Result) Complete() bool {
	return len(r.Artifacts) == len(r.order)
}

// Missing returns the names of unfound categories in priority order.
func (r *Result) Missing() []string {
	missing := make([]string, 0, len(r.order)-len(r.Artifacts))
	for _, name := range r.order {
		if _, ok := r.Artifacts[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Ordered returns the artifacts in category priority order.
func (r *Result) Ordered() []Artifact {
	out := make([]Artifact, 0, len(r.Artifacts))
	for _, name := range r.order {
		if a, ok := r.Artifacts[name]; ok {
			out = append(out, a)
		}
	}
	return out
}

// ToModels converts the artifacts to their API form.
func (r *Result) ToModels() []models.Artifact {
	ordered := r.Ordered()
	out := make([]models.Artifact, len(ordered))
	for i, a := range ordered {
		out[i] = models.Artifact{
			Category:  a.Category,
			Path:      a.Path,
			SourceURL: a.SourceURL,
			LinkIndex: a.LinkIndex,
		}
	}
	return out
}
