package rules

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Chative-core-poc-v1/cafebot/internal/agent/model"
)

//go:embed default_rules.yaml
var defaultRules []byte

// Tables holds every keyword list, phrase list and reply template the pipeline uses.
type Tables struct {
	Script     ScriptRule      `yaml:"script"`
	Analysis   AnalysisRules   `yaml:"analysis"`
	Namespaces NamespaceRules  `yaml:"namespaces"`
	Escalation EscalationRules `yaml:"escalation"`
	Response   ResponseRules   `yaml:"response"`
}

type RuneRange struct {
	From rune `yaml:"from"`
	To   rune `yaml:"to"`
}

// ScriptRule describes the local script used for language detection.
type ScriptRule struct {
	Name   string      `yaml:"name"`
	Ranges []RuneRange `yaml:"ranges"`
}

// Phrases is keyed by language wire value ("en", "my").
type Phrases map[string][]string

// For returns the phrases for lang; mixed messages are checked against every language.
func (p Phrases) For(lang model.Language) []string {
	if lang == model.LanguageMixed {
		var all []string
		for _, v := range p {
			all = append(all, v...)
		}
		return all
	}
	return p[string(lang)]
}

// All returns every phrase regardless of language.
func (p Phrases) All() []string {
	return p.For(model.LanguageMixed)
}

type TermBucket struct {
	Keywords []string `yaml:"keywords"`
	Terms    []string `yaml:"terms"`
}

type AnalysisRules struct {
	Greetings    Phrases      `yaml:"greetings"`
	Farewells    Phrases      `yaml:"farewells"`
	TermBuckets  []TermBucket `yaml:"term_buckets"`
	DefaultTerms []string     `yaml:"default_terms"`
}

type NamespaceRules struct {
	Order    []string            `yaml:"order"`
	Default  string              `yaml:"default"`
	Keywords map[string][]string `yaml:"keywords"`
}

type EscalationRules struct {
	HumanRequest Phrases `yaml:"human_request"`
	Complaint    Phrases `yaml:"complaint"`
	Emotion      Phrases `yaml:"emotion"`
	Urgent       Phrases `yaml:"urgent"`
	Negative     Phrases `yaml:"negative"`
	SimpleQuery  Phrases `yaml:"simple_query"`
}

// Templates are the canned replies for one language. {business_name} and
// {contact_phone} are substituted at render time.
type Templates struct {
	Greeting       string `yaml:"greeting"`
	Goodbye        string `yaml:"goodbye"`
	Thanks         string `yaml:"thanks"`
	Fallback       string `yaml:"fallback"`
	Waiting        string `yaml:"waiting"`
	Repeat         string `yaml:"repeat"`
	EscalationNote string `yaml:"escalation_note"`
}

type ResponseRules struct {
	Greeting  Phrases              `yaml:"greeting"`
	Farewell  Phrases              `yaml:"farewell"`
	Thanks    Phrases              `yaml:"thanks"`
	Waiting   Phrases              `yaml:"waiting"`
	Repeat    Phrases              `yaml:"repeat"`
	Forbidden Phrases              `yaml:"forbidden"`
	Templates map[string]Templates `yaml:"templates"`
}

// TemplatesFor returns the templates of lang, falling back to English.
func (r ResponseRules) TemplatesFor(lang model.Language) Templates {
	if t, ok := r.Templates[string(lang)]; ok {
		return t
	}
	return r.Templates[string(model.LanguageEnglish)]
}

// Default parses the embedded rule tables.
func Default() *Tables {
	t, err := Parse(defaultRules, nil)
	if err != nil {
		panic(fmt.Sprintf("embedded rules are invalid: %v", err))
	}
	return t
}

// Load reads a YAML rule file over the embedded defaults. An empty path returns the defaults.
func Load(path string) (*Tables, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	return Parse(b, Default())
}

// Parse decodes data onto base (or onto empty tables when base is nil) and validates the result.
// Lists in data replace the base lists; map keys not present in data are kept.
func Parse(data []byte, base *Tables) (*Tables, error) {
	t := base
	if t == nil {
		t = &Tables{}
	}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks the entries the pipeline cannot work without.
func (t *Tables) Validate() error {
	if len(t.Script.Ranges) == 0 {
		return fmt.Errorf("rules: script.ranges is empty")
	}
	for _, r := range t.Script.Ranges {
		if r.From > r.To {
			return fmt.Errorf("rules: script range %#x-%#x is inverted", r.From, r.To)
		}
	}
	if _, ok := model.ParseNamespace(t.Namespaces.Default); !ok {
		return fmt.Errorf("rules: namespaces.default %q is not a namespace", t.Namespaces.Default)
	}
	for _, ns := range t.Namespaces.Order {
		if _, ok := model.ParseNamespace(ns); !ok {
			return fmt.Errorf("rules: namespaces.order has unknown namespace %q", ns)
		}
	}
	en, ok := t.Response.Templates[string(model.LanguageEnglish)]
	if !ok {
		return fmt.Errorf("rules: response.templates.en is required")
	}
	if en.Fallback == "" || en.Greeting == "" || en.EscalationNote == "" {
		return fmt.Errorf("rules: response.templates.en needs greeting, fallback and escalation_note")
	}
	return nil
}
