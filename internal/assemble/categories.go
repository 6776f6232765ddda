package assemble

import (
	"regexp"
	"strings"
)

// DefaultCategory labels rows whose definition text matches nothing in
// the vocabulary. No record is left uncategorized.
const DefaultCategory = "General AI"

// categoryVocabulary maps category labels to the keywords that imply
// them. Matching is case-insensitive over the definition-like sections.
var categoryVocabulary = []struct {
	Label    string
	Keywords []string
}{
	{"Machine Learning", []string{"machine learning", "supervised", "unsupervised", "regression", "classification", "gradient"}},
	{"Deep Learning", []string{"deep learning", "neural network", "backpropagation", "convolutional", "transformer", "attention"}},
	{"Natural Language Processing", []string{"natural language", "nlp", "tokenization", "language model", "text generation", "embedding"}},
	{"Computer Vision", []string{"computer vision", "image recognition", "object detection", "segmentation", "image classification"}},
	{"Reinforcement Learning", []string{"reinforcement learning", "reward", "policy", "q-learning", "agent-environment"}},
	{"Data Engineering", []string{"data pipeline", "etl", "data warehouse", "feature engineering", "data quality"}},
	{"Statistics", []string{"probability", "bayesian", "statistical", "distribution", "hypothesis"}},
	{"AI Ethics", []string{"bias", "fairness", "responsible ai", "explainability", "interpretability"}},
}

// Structured extraction patterns for explicit category statements in
// Introduction / Tags text, carried over from the production exports.
var categoryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Main Category:\s*([^;,\n]+)`),
	regexp.MustCompile(`(?i)main category of\s+([^,\n.]+)`),
	regexp.MustCompile(`(?i)falls under(?:\s+the)?\s+(?:main\s+category\s+of\s+)?([^,\n.]+)`),
	regexp.MustCompile(`(?i)belongs to(?:\s+the)?\s+(?:main\s+category\s+of\s+)?([^,\n.]+)`),
}

var categoryTrailer = regexp.MustCompile(`(?i)\s+(within|in|and|or)\s+.*$`)

// deriveCategories labels a record. Explicit category statements in the
// Tags and Introduction sections win; keyword matching over the
// definition text fills in the rest; the default closes the gap.
func deriveCategories(rec *Record) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(label string) {
		label = strings.TrimSpace(label)
		if label == "" {
			return
		}
		if _, dup := seen[label]; dup {
			return
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}

	// Tags columns carry the cleanest data; Introduction is the fallback,
	// matching the original column priority.
	for _, section := range []string{"Tags and Keywords", "Introduction"} {
		content, ok := rec.Sections[section]
		if !ok {
			continue
		}
		if v, ok := content.Fields["Main Category"]; ok {
			if strings.Count(v, ",") >= 2 {
				// Comma-separated tag list: take the leading labels.
				parts := strings.Split(v, ",")
				for i, p := range parts {
					if i >= 3 {
						break
					}
					add(CleanCategoryName(p))
				}
			} else {
				add(CleanCategoryName(ExtractCategory(v)))
			}
		}
	}

	defText := definitionText(rec)
	lower := strings.ToLower(defText)
	for _, entry := range categoryVocabulary {
		for _, kw := range entry.Keywords {
			if strings.Contains(lower, kw) {
				add(entry.Label)
				break
			}
		}
	}

	if len(out) == 0 {
		add(DefaultCategory)
	}
	return out
}

// definitionText returns the definition-like content used for keyword
// matching.
func definitionText(rec *Record) string {
	if intro, ok := rec.Sections["Introduction"]; ok {
		if v, ok := intro.Fields["Definition and Overview"]; ok {
			return v
		}
		return intro.Text
	}
	return ""
}

// ExtractCategory pulls an explicit category name out of natural
// language. Returns the raw input when no pattern applies and the text
// is short enough to already be a label.
func ExtractCategory(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	for _, p := range categoryPatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			return categoryTrailer.ReplaceAllString(strings.TrimSpace(m[1]), "")
		}
	}
	if m := regexp.MustCompile(`['"]([^'"]+)['"]`).FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if len(text) <= 60 && !strings.ContainsAny(text, ".\n") {
		return text
	}
	return ""
}

// CleanCategoryName normalizes a label: trailing qualifier clauses
// dropped, title case, truncated to the storage limit.
func CleanCategoryName(name string) string {
	cleaned := categoryTrailer.ReplaceAllString(strings.TrimSpace(name), "")
	cleaned = titleCase(cleaned)
	if len(cleaned) > 100 {
		cleaned = cleaned[:97] + "..."
	}
	return cleaned
}

// titleCase capitalizes each word. Labels are ASCII in practice.
func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
