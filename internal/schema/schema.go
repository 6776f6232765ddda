// Package schema defines the fixed 42-section catalogue that glossary
// records are normalized into, and the header matching rules that map
// source spreadsheet columns onto it.
package schema

// Version identifies the catalogue revision. Bump when sections are
// added, renamed, or retired.
const Version = "42v2"

// DisplayType indicates where a section renders in the published term page.
type DisplayType string

const (
	DisplayCard        DisplayType = "card"
	DisplaySidebar     DisplayType = "sidebar"
	DisplayMain        DisplayType = "main"
	DisplayMetadata    DisplayType = "metadata"
	DisplayInteractive DisplayType = "interactive"
)

// ParseStrategy tags how a section's raw cell content is interpreted.
type ParseStrategy string

const (
	// ParseSimple captures cell content verbatim.
	ParseSimple ParseStrategy = "simple"
	// ParseList splits cell content on delimiters into an ordered list.
	ParseList ParseStrategy = "list"
	// ParseStructured extracts labeled fields from natural-language text.
	ParseStructured ParseStrategy = "structured"
	// ParseAI marks content that needs model-assisted interpretation.
	// Treated as simple capture during ingest; enrichment fills it later.
	ParseAI ParseStrategy = "ai"
)

// Section is one named content slot in the catalogue.
type Section struct {
	Name    string
	Display DisplayType
	Parse   ParseStrategy
}

// catalogue is the fixed 42-section layout. Order matches the column
// order of the production source spreadsheets.
var catalogue = []Section{
	{Name: "Introduction", Display: DisplayCard, Parse: ParseStructured},
	{Name: "Prerequisites", Display: DisplayCard, Parse: ParseList},
	{Name: "Theoretical Concepts", Display: DisplayMain, Parse: ParseSimple},
	{Name: "How It Works", Display: DisplayMain, Parse: ParseSimple},
	{Name: "Variants", Display: DisplayMain, Parse: ParseList},
	{Name: "Applications", Display: DisplayMain, Parse: ParseSimple},
	{Name: "Implementation", Display: DisplayMain, Parse: ParseSimple},
	{Name: "Evaluation and Metrics", Display: DisplayMain, Parse: ParseSimple},
	{Name: "Advantages and Disadvantages", Display: DisplayMain, Parse: ParseSimple},
	{Name: "Ethics and Responsible AI", Display: DisplayMain, Parse: ParseSimple},
	{Name: "Historical Context", Display: DisplaySidebar, Parse: ParseSimple},
	{Name: "Illustration or Diagram", Display: DisplayMain, Parse: ParseAI},
	{Name: "Related Concepts", Display: DisplaySidebar, Parse: ParseList},
	{Name: "Case Studies", Display: DisplayMain, Parse: ParseSimple},
	{Name: "Interviews with Experts", Display: DisplayMain, Parse: ParseSimple},
	{Name: "Hands-on Tutorials", Display: DisplayMain, Parse: ParseSimple},
	{Name: "Interactive Elements", Display: DisplayInteractive, Parse: ParseAI},
	{Name: "Industry Insights", Display: DisplayMain, Parse: ParseSimple},
	{Name: "Common Challenges and Pitfalls", Display: DisplayMain, Parse: ParseSimple},
	{Name: "Real-world Datasets and Benchmarks", Display: DisplayMain, Parse: ParseList},
	{Name: "Tools and Frameworks", Display: DisplaySidebar, Parse: ParseList},
	{Name: "Did You Know?", Display: DisplayCard, Parse: ParseSimple},
	{Name: "Quick Quiz", Display: DisplayInteractive, Parse: ParseAI},
	{Name: "Further Reading", Display: DisplaySidebar, Parse: ParseList},
	{Name: "Project Suggestions", Display: DisplayMain, Parse: ParseList},
	{Name: "Recommended Websites and Courses", Display: DisplaySidebar, Parse: ParseList},
	{Name: "Collaboration and Community", Display: DisplaySidebar, Parse: ParseSimple},
	{Name: "Research Papers", Display: DisplaySidebar, Parse: ParseList},
	{Name: "Career Guidance", Display: DisplayMain, Parse: ParseSimple},
	{Name: "Future Directions", Display: DisplayMain, Parse: ParseSimple},
	{Name: "Glossary", Display: DisplaySidebar, Parse: ParseList},
	{Name: "FAQs", Display: DisplayMain, Parse: ParseStructured},
	{Name: "Tags and Keywords", Display: DisplayMetadata, Parse: ParseStructured},
	{Name: "Appendices", Display: DisplayMain, Parse: ParseSimple},
	{Name: "Index", Display: DisplayMetadata, Parse: ParseList},
	{Name: "References", Display: DisplaySidebar, Parse: ParseList},
	{Name: "Conclusion", Display: DisplayMain, Parse: ParseSimple},
	{Name: "Metadata", Display: DisplayMetadata, Parse: ParseStructured},
	{Name: "Best Practices", Display: DisplayMain, Parse: ParseSimple},
	{Name: "Security Considerations", Display: DisplayMain, Parse: ParseSimple},
	{Name: "Optimization Techniques", Display: DisplayMain, Parse: ParseSimple},
	{Name: "Comparison with Alternatives", Display: DisplayMain, Parse: ParseSimple},
}

// All returns the full catalogue in column order.
// The returned slice is a copy; callers may not mutate the catalogue.
func All() []Section {
	out := make([]Section, len(catalogue))
	copy(out, catalogue)
	return out
}

// Count is the number of sections in the catalogue.
func Count() int {
	return len(catalogue)
}

// Get returns a section by name.
func Get(name string) (Section, bool) {
	s, ok := byName[name]
	return s, ok
}

var byName = func() map[string]Section {
	m := make(map[string]Section, len(catalogue))
	for _, s := range catalogue {
		m[s.Name] = s
	}
	return m
}()
