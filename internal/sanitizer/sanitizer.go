// Package sanitizer очищает свободный текст пользователя перед отправкой во
// внешний LLM API или сохранением. Это эвристический фильтр: он не заменяет
// обработку содержимого как недоверенного на стороне потребителя.
package sanitizer

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxLength максимальная длина результата в символах (рунах).
	MaxLength = 10000

	repeatThreshold = 20
	collapsedRepeat = 3
	maxRemovalPass  = 5
)

// Тексты предупреждений.
const (
	WarnControlChars    = "control characters removed"
	WarnInvalidEncoding = "invalid utf-8 sequences removed"
	WarnTruncated       = "input truncated to 10000 characters"
	WarnRepetition      = "repeated characters collapsed"
	WarnPromptInjection = "possible prompt injection detected"
)

// Result результат очистки.
type Result struct {
	Sanitized string   `json:"sanitized"`
	Warnings  []string `json:"warnings"`
	IsClean   bool     `json:"is_clean"`
}

// Suspicious возвращает true, если сработал хотя бы один шаблон,
// а не только исправление формы текста.
func (r Result) Suspicious() bool {
	for _, w := range r.Warnings {
		switch w {
		case WarnControlChars, WarnInvalidEncoding, WarnTruncated, WarnRepetition:
			continue
		}
		return true
	}
	return false
}

type pattern struct {
	re      *regexp.Regexp
	warning string
}

// removalPatterns вырезаются из текста.
var removalPatterns = []pattern{
	{regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`), "script block removed"},
	{regexp.MustCompile(`(?is)<(iframe|object|embed|style)\b[^>]*>.*?</(iframe|object|embed|style)\s*>`), "embedded content removed"},
	// Имя тега без цифр, кроме h1-h6: сравнения вида A1<B1 не считаются разметкой.
	{regexp.MustCompile(`(?i)</?(h[1-6]|[a-z][a-z-]*)(\s[^<>]*)?/?>`), "markup removed"},
	{regexp.MustCompile(`(?i)\b(java|vb)script\s*:`), "script uri removed"},
	{regexp.MustCompile(`(?i)\bon(click|load|error|focus|blur|submit|change|input|key\w*|mouse\w*)\s*=`), "inline event handler removed"},
	{regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`), "sql statement removed"},
	{regexp.MustCompile(`(?i)\bdrop\s+(table|database|schema)\s+\w+`), "sql statement removed"},
	{regexp.MustCompile(`(?i)\bdelete\s+from\s+\w+\s*(where\b|;)`), "sql statement removed"},
	{regexp.MustCompile(`(?i)\binsert\s+into\s+\w+\s*(\(|values\b)`), "sql statement removed"},
	{regexp.MustCompile(`(?i)\btruncate\s+table\s+\w+`), "sql statement removed"},
	{regexp.MustCompile(`(?i)'\s*or\s+'?\d+'?\s*=\s*'?\d+`), "sql tautology removed"},
	{regexp.MustCompile(`;\s*--`), "sql comment removed"},
}

// flagPatterns только помечают текст: ложные срабатывания на обычном тексте
// слишком вероятны, чтобы вырезать совпадения.
var flagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(ignore|disregard|forget)\s+(all\s+|any\s+)?(the\s+)?(previous|prior|above|earlier)\s+(instructions|prompts?|rules)`),
	regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(a|an|in)\b`),
	regexp.MustCompile(`(?i)\b(system|developer)\s+prompt\b`),
	regexp.MustCompile(`(?i)\bact\s+as\s+(an?\s+)?(unrestricted|unfiltered|jailbroken)\b`),
	regexp.MustCompile(`(?i)\bjailbreak`),
	regexp.MustCompile(`(?i)\b(reveal|print|show)\s+(me\s+)?(your|the)\s+(hidden\s+)?(instructions|system)\b`),
}

// Sanitize очищает текст. Никогда не паникует и ничего не логирует.
func Sanitize(text string) Result {
	w := newWarnings()

	s := stripControl(text, w)
	s = removePatterns(s, w)

	for _, re := range flagPatterns {
		if re.MatchString(s) {
			w.add(WarnPromptInjection)
			break
		}
	}

	s = truncate(s, w)
	s = collapseRepeats(s, w)

	return Result{
		Sanitized: s,
		Warnings:  w.list,
		IsClean:   len(w.list) == 0,
	}
}

// SanitizeValue очищает значение произвольного типа. Всё, что не строка,
// даёт пустой результат без предупреждений.
func SanitizeValue(v any) Result {
	if s, ok := v.(string); ok {
		return Sanitize(s)
	}
	return Result{Sanitized: "", Warnings: []string{}, IsClean: true}
}

type warnings struct {
	list []string
	seen map[string]struct{}
}

func newWarnings() *warnings {
	return &warnings{list: []string{}, seen: map[string]struct{}{}}
}

func (w *warnings) add(msg string) {
	if _, ok := w.seen[msg]; ok {
		return
	}
	w.seen[msg] = struct{}{}
	w.list = append(w.list, msg)
}

func stripControl(s string, w *warnings) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
		w.add(WarnInvalidEncoding)
	}

	var b strings.Builder
	b.Grow(len(s))
	changed := false
	for _, r := range s {
		switch {
		case r == '\n' || r == '\t' || r == '\r':
			b.WriteRune(r)
		case unicode.IsControl(r) || isInvisible(r):
			changed = true
		default:
			b.WriteRune(r)
		}
	}
	if changed {
		w.add(WarnControlChars)
	}
	return b.String()
}

func isInvisible(r rune) bool {
	switch r {
	case '\u200B', '\u200C', '\u200D', '\u2060', '\uFEFF':
		return true
	}
	return false
}

// removePatterns повторяет проход, пока текст меняется: удаление одного
// фрагмента может склеить новый, например "<scr<script></script>ipt>".
func removePatterns(s string, w *warnings) string {
	for range maxRemovalPass {
		changed := false
		for _, p := range removalPatterns {
			if p.re.MatchString(s) {
				s = p.re.ReplaceAllString(s, "")
				w.add(p.warning)
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return s
}

func truncate(s string, w *warnings) string {
	if utf8.RuneCountInString(s) <= MaxLength {
		return s
	}
	w.add(WarnTruncated)
	n := 0
	for i := range s {
		if n == MaxLength {
			return s[:i]
		}
		n++
	}
	return s
}

func collapseRepeats(s string, w *warnings) string {
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	run := 0
	collapsed := false
	flush := func() {
		if run == 0 {
			return
		}
		n := run
		if run > repeatThreshold {
			n = collapsedRepeat
			collapsed = true
		}
		for range n {
			b.WriteRune(prev)
		}
	}

	for _, r := range s {
		if run > 0 && r == prev {
			run++
			continue
		}
		flush()
		prev = r
		run = 1
	}
	flush()

	if !collapsed {
		return s
	}
	w.add(WarnRepetition)
	return b.String()
}
