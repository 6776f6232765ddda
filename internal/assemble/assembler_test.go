package assemble

import (
	"strings"
	"testing"
)

var headers = []string{
	"Term",
	"Introduction – Definition and Overview",
	"Introduction – Key Concepts and Principles",
	"Prerequisites – Prior Knowledge or Skills",
	"Related Concepts – Connected Terms",
	"Tags and Keywords – Main Category",
	"Conclusion – Summary",
}

func row(cells ...string) []string { return cells }

func TestBuild_BasicRecord(t *testing.T) {
	a := New(headers)

	rec, err := a.Build(row(
		"Gradient Descent",
		"An optimization algorithm used in machine learning to minimize a loss function via gradient steps.",
		"learning rate, convergence",
		"Calculus; Linear Algebra",
		"Backpropagation, Stochastic Gradient Descent",
		"Machine Learning",
		"Widely used across model training.",
	), 0)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if rec.Name != "Gradient Descent" {
		t.Errorf("name = %q", rec.Name)
	}
	if _, ok := rec.Sections["Introduction"]; !ok {
		t.Error("missing Introduction section")
	}
	if rec.RowHash == "" {
		t.Error("missing row hash")
	}

	prereq := rec.Sections["Prerequisites"]
	if len(prereq.Items) != 2 || prereq.Items[0] != "Calculus" {
		t.Errorf("prerequisites items = %v", prereq.Items)
	}

	related := rec.Sections["Related Concepts"]
	if len(related.Items) != 2 || related.Items[1] != "Stochastic Gradient Descent" {
		t.Errorf("related items = %v", related.Items)
	}

	intro := rec.Sections["Introduction"]
	if intro.Fields["Definition and Overview"] == "" {
		t.Error("structured parse did not keep subsection fields")
	}
}

func TestBuild_EmptySectionsOmitted(t *testing.T) {
	a := New(headers)
	rec, err := a.Build(row("Sparse Term", "A definition.", "", "", "", "", ""), 3)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := rec.Sections["Prerequisites"]; ok {
		t.Error("empty Prerequisites section should be omitted")
	}
	if _, ok := rec.Sections["Conclusion"]; ok {
		t.Error("empty Conclusion section should be omitted")
	}
	if len(rec.Sections) != 1 {
		t.Errorf("populated sections = %d, want 1", len(rec.Sections))
	}
}

func TestBuild_NameFallbacks(t *testing.T) {
	t.Run("alias column", func(t *testing.T) {
		a := New([]string{"Name", "Introduction – Definition and Overview"})
		rec, err := a.Build(row("Tokenizer", "Splits text."), 0)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Name != "Tokenizer" {
			t.Errorf("name = %q", rec.Name)
		}
	})

	t.Run("first non-empty cell", func(t *testing.T) {
		a := New([]string{"Something Odd", "Introduction – Definition and Overview"})
		rec, err := a.Build(row("", "  Embedding  "), 0)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Name != "Embedding" {
			t.Errorf("name = %q", rec.Name)
		}
	})

	t.Run("fully empty row errors", func(t *testing.T) {
		a := New(headers)
		_, err := a.Build(row("", "", "", "", "", "", ""), 7)
		if err == nil {
			t.Fatal("expected error")
		}
		re, ok := err.(RowError)
		if !ok {
			t.Fatalf("error type %T, want RowError", err)
		}
		if re.Row != 7 {
			t.Errorf("row = %d, want 7", re.Row)
		}
	})
}

func TestDeriveCategories(t *testing.T) {
	a := New(headers)

	t.Run("explicit main category", func(t *testing.T) {
		rec, err := a.Build(row("X", "Some text.", "", "", "", "This term falls under the main category of Deep Learning within AI", ""), 0)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Categories[0] != "Deep Learning" {
			t.Errorf("categories = %v", rec.Categories)
		}
	})

	t.Run("keyword match on definition", func(t *testing.T) {
		rec, err := a.Build(row("X", "A convolutional neural network architecture.", "", "", "", "", ""), 0)
		if err != nil {
			t.Fatal(err)
		}
		found := false
		for _, c := range rec.Categories {
			if c == "Deep Learning" {
				found = true
			}
		}
		if !found {
			t.Errorf("categories = %v, want Deep Learning present", rec.Categories)
		}
	})

	t.Run("comma separated tags", func(t *testing.T) {
		rec, err := a.Build(row("X", "Plain text.", "", "", "", "machine learning, statistics, optimization, extra", ""), 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(rec.Categories) < 3 || rec.Categories[0] != "Machine Learning" {
			t.Errorf("categories = %v", rec.Categories)
		}
	})

	t.Run("default category for no match", func(t *testing.T) {
		rec, err := a.Build(row("X", "Unrelated prose about gardens.", "", "", "", "", ""), 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(rec.Categories) != 1 || rec.Categories[0] != DefaultCategory {
			t.Errorf("categories = %v, want [%s]", rec.Categories, DefaultCategory)
		}
	})
}

func TestExtractCategory(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Main Category: Natural Language Processing", "Natural Language Processing"},
		{"This belongs to the main category of Computer Vision and related fields", "Computer Vision"},
		{"It falls under Statistics within data science", "Statistics"},
		{`The category is 'Reinforcement Learning'`, "Reinforcement Learning"},
		{"Machine Learning", "Machine Learning"},
	}
	for _, tt := range tests {
		if got := ExtractCategory(tt.in); got != tt.want {
			t.Errorf("ExtractCategory(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRowHash_ChangesWithContent(t *testing.T) {
	a := New(headers)
	r1, _ := a.Build(row("T", "one", "", "", "", "", ""), 0)
	r2, _ := a.Build(row("T", "two", "", "", "", "", ""), 0)
	r3, _ := a.Build(row("T", "one", "", "", "", "", ""), 0)
	if r1.RowHash == r2.RowHash {
		t.Error("different rows should hash differently")
	}
	if r1.RowHash != r3.RowHash {
		t.Error("identical rows should hash identically")
	}
	if len(r1.RowHash) != 32 || strings.ToLower(r1.RowHash) != r1.RowHash {
		t.Errorf("hash %q not lowercase hex md5", r1.RowHash)
	}
}
