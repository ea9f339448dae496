package session

import "strings"

// Language is a conversation language offered to the user.
type Language struct {
	Code string `json:"code" yaml:"code"`
	Name string `json:"name" yaml:"name"`
}

// DefaultLanguages is the built-in language list.
var DefaultLanguages = []Language{
	{Code: "en-US", Name: "English"},
	{Code: "es-ES", Name: "Spanish"},
	{Code: "fr-FR", Name: "French"},
	{Code: "de-DE", Name: "German"},
	{Code: "it-IT", Name: "Italian"},
	{Code: "pt-BR", Name: "Portuguese"},
	{Code: "ja-JP", Name: "Japanese"},
	{Code: "zh-CN", Name: "Mandarin"},
	{Code: "hi-IN", Name: "Hindi"},
	{Code: "ar-SA", Name: "Arabic"},
}

// LanguagePlaceholder is replaced with the language display name in the
// instruction template.
const LanguagePlaceholder = "{language}"

// DefaultInstructions is the system instruction template used when none is
// configured.
const DefaultInstructions = "You are a helpful and friendly sales and marketing assistant for a leading tech company. " +
	"Your goal is to engage potential customers, answer their questions about our products, and highlight the benefits. " +
	"Please conduct the entire conversation in " + LanguagePlaceholder + ". Be professional, yet approachable."

// BuildInstructions interpolates the language display name into tmpl.
func BuildInstructions(tmpl, languageName string) string {
	return strings.ReplaceAll(tmpl, LanguagePlaceholder, languageName)
}

// findLanguage returns the language with the given code.
func findLanguage(langs []Language, code string) (Language, bool) {
	for _, l := range langs {
		if strings.EqualFold(l.Code, code) {
			return l, true
		}
	}
	return Language{}, false
}
