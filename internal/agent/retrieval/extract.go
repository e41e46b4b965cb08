package retrieval

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Chative-core-poc-v1/cafebot/internal/agent/model"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/rules"
)

const fieldSeparator = " | "

type field struct {
	label string
	keys  []string
}

// layouts map metadata keys to labelled display fields. The first non-empty key wins.
var layouts = map[model.Namespace][]field{
	model.NamespaceMenu: {
		{"English", []string{"english_name", "name"}},
		{"Myanmar", []string{"myanmar_name"}},
		{"Description", []string{"description_en", "description"}},
		{"ဖော်ပြချက်", []string{"description_mm"}},
	},
	model.NamespaceFAQ: {
		{"Q", []string{"question_en", "question"}},
		{"A", []string{"answer_en", "answer"}},
		{"မေး", []string{"question_mm"}},
		{"ဖြေ", []string{"answer_mm"}},
	},
	model.NamespaceEvents: {
		{"Event", []string{"title_en", "title"}},
		{"Date", []string{"date", "event_date"}},
		{"Details", []string{"description_en", "description"}},
		{"အစီအစဉ်", []string{"title_mm"}},
		{"အသေးစိတ်", []string{"description_mm"}},
	},
	model.NamespaceJobs: {
		{"Position", []string{"position_en", "title_en", "title"}},
		{"Description", []string{"description_en", "content", "description"}},
		{"ရာထူး", []string{"position_mm", "title_mm"}},
		{"ဖော်ပြချက်", []string{"description_mm"}},
	},
}

// ExtractContent renders the display string of a hit. Missing fields are omitted;
// namespaces without a layout use the text or content field.
func ExtractContent(ns model.Namespace, metadata map[string]any) string {
	layout, ok := layouts[ns]
	if !ok {
		return first(metadata, "text", "content")
	}

	parts := make([]string, 0, len(layout)+1)
	for _, f := range layout {
		if v := first(metadata, f.keys...); v != "" {
			parts = append(parts, f.label+": "+v)
		}
	}
	if ns == model.NamespaceMenu {
		if price := first(metadata, "price"); price != "" {
			if currency := first(metadata, "currency"); currency != "" {
				price += " " + currency
			}
			parts = append(parts, "Price: "+price)
		}
	}
	return strings.Join(parts, fieldSeparator)
}

// ContentLanguage classifies extracted content by script.
func ContentLanguage(tables *rules.Tables, content string) model.Language {
	return tables.DetectLanguage(content)
}

func first(metadata map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := metadata[k]; ok {
			if s := stringify(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
