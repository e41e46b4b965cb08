package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chative-core-poc-v1/cafebot/internal/agent/model"
)

func TestDefaultTablesAreValid(t *testing.T) {
	tables := Default()

	require.NoError(t, tables.Validate())
	assert.NotEmpty(t, tables.Analysis.Greetings.For(model.LanguageEnglish))
	assert.NotEmpty(t, tables.Analysis.Greetings.For(model.LanguageLocal))
	assert.NotEmpty(t, tables.Response.TemplatesFor(model.LanguageLocal).Fallback)
	assert.Equal(t, tables.Response.TemplatesFor(model.LanguageEnglish), tables.Response.TemplatesFor("fr"))
}

func TestLocalTemplatesAvoidForbiddenWords(t *testing.T) {
	tables := Default()
	tpl := tables.Response.TemplatesFor(model.LanguageLocal)

	for _, text := range []string{tpl.Greeting, tpl.Goodbye, tpl.Thanks, tpl.Fallback, tpl.Waiting, tpl.Repeat} {
		for _, w := range tables.Response.Forbidden.For(model.LanguageLocal) {
			assert.NotContains(t, text, w)
		}
	}
}

func TestContainsUsesWordBoundariesForLatin(t *testing.T) {
	assert.True(t, Contains("Hi there", "hi"))
	assert.True(t, Contains("what's on the menu?", "menu"))
	assert.False(t, Contains("this is it", "hi"))
	assert.True(t, Contains("can I talk to someone please", "talk to someone"))
	assert.False(t, Contains("", "hi"))
	assert.False(t, Contains("hello", "  "))
}

func TestContainsSubstringForLocalScript(t *testing.T) {
	assert.True(t, Contains("မင်္ဂလာပါ ခင်ဗျာ", "မင်္ဂလာ"))
	assert.True(t, Contains("တာဝန်ရှိသူနဲ့ပြောချင်ပါတယ်", "တာဝန်ရှိသူ"))
}

func TestDetectLanguage(t *testing.T) {
	tables := Default()

	assert.Equal(t, model.LanguageEnglish, tables.DetectLanguage("Hello"))
	assert.Equal(t, model.LanguageLocal, tables.DetectLanguage("မင်္ဂလာပါ"))
	assert.Equal(t, model.LanguageMixed, tables.DetectLanguage("Coffee ကော်ဖီ"))
	assert.Equal(t, model.LanguageEnglish, tables.DetectLanguage("12345"))
	assert.True(t, tables.HasScript("price ဈေး"))
	assert.False(t, tables.HasScript("price"))
}

func TestNamespaceForAndBasicTerms(t *testing.T) {
	tables := Default()

	assert.Equal(t, model.NamespaceMenu, tables.NamespaceFor("Do you have coffee?"))
	assert.Equal(t, model.NamespaceEvents, tables.NamespaceFor("any promotion this week"))
	assert.Equal(t, model.NamespaceJobs, tables.NamespaceFor("are you hiring"))
	assert.Equal(t, model.NamespaceFAQ, tables.NamespaceFor("where is the shop"))

	assert.Equal(t, []string{"menu", "food", "dishes"}, tables.BasicTerms("show me the menu"))
	assert.Equal(t, []string{"location", "address", "where"}, tables.BasicTerms("where are you"))
	assert.Equal(t, []string{"general", "information"}, tables.BasicTerms("tell me something"))
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
namespaces:
  keywords:
    menu: [noodles]
`), 0o600))

	tables, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, model.NamespaceMenu, tables.NamespaceFor("noodles please"))
	assert.Equal(t, model.NamespaceFAQ, tables.NamespaceFor("coffee please"))
	assert.Equal(t, model.NamespaceEvents, tables.NamespaceFor("party"))
}

func TestLoadRejectsInvalidTables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("namespaces:\n  default: kitchen\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
