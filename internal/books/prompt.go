package books

import "strings"

// pronounForms maps a pronoun preference to its subject/object/
// possessive forms.
var pronounForms = map[string][3]string{
	"she/her":   {"she", "her", "her"},
	"he/him":    {"he", "him", "his"},
	"they/them": {"they", "them", "their"},
}

// ResolvePlaceholders substitutes reader personalization into a page
// prompt. Supported placeholders: {{name}}, {{they}}, {{them}},
// {{their}}, plus capitalized variants for sentence starts. Unknown
// pronoun preferences fall back to they/them.
func ResolvePlaceholders(prompt, readerName, pronouns string) string {
	forms, ok := pronounForms[strings.ToLower(strings.TrimSpace(pronouns))]
	if !ok {
		forms = pronounForms["they/them"]
	}

	r := strings.NewReplacer(
		"{{name}}", readerName,
		"{{Name}}", readerName,
		"{{they}}", forms[0],
		"{{They}}", capitalize(forms[0]),
		"{{them}}", forms[1],
		"{{Them}}", capitalize(forms[1]),
		"{{their}}", forms[2],
		"{{Their}}", capitalize(forms[2]),
	)
	return r.Replace(prompt)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
