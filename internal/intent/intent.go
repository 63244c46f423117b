// Package intent labels an incoming chat message so the session can pick a branch.
//
// Every predicate is pure and never fails: no match means false. The keyword
// vocabularies live in Rules so they can be tuned without touching the logic.
package intent

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Rules holds the vocabularies used by the classifiers.
type Rules struct {
	SmalltalkMaxRunes int
	SmalltalkPhrases  []string
	PresencePattern   *regexp.Regexp
	GreetingPattern   *regexp.Regexp

	ArticleNeedles []string
	ArticlePattern *regexp.Regexp

	FreshnessWords []string

	PersonKeywords   []string
	HonorificPattern *regexp.Regexp
	LinkedInPattern  *regexp.Regexp
	PlaceWords       []string
	NamePattern      *regexp.Regexp
	NamePrepositions []string
	MinNameWords     int
	MaxNameWords     int
	QuestionPrefix   *regexp.Regexp
}

var DefaultRules = Rules{
	SmalltalkMaxRunes: 24,
	SmalltalkPhrases: []string{
		"ciao", "buongiorno", "buona sera", "buonasera", "hey", "hei", "hola", "salve",
		"come va", "come stai", "come posso", "aiuto", "help", "thanks", "grazie",
		"buon pomeriggio", "buonpomeriggio", "buonanotte", "notte", "we", "yo",
	},
	PresencePattern: regexp.MustCompile(`(?i)\b(ci sei|sei li|stai li|mi senti)\b`),
	GreetingPattern: regexp.MustCompile(`(?i)^(ciao|buongiorno|buonasera|hey|salve)\b`),

	ArticleNeedles: []string{
		"articolo", "articoli", "post", "blog", "news", "notizia", "articolo su",
		"link", "collegamento", "mandami il link", "dammi il link", "dove posso leggere",
		"mostrami l'articolo", "scheda progetto",
	},
	ArticlePattern: regexp.MustCompile(`(?i)articol[oi]\s*:`),

	FreshnessWords: []string{
		"news", "notizie", "oggi", "current", "latest", "recent", "what happened", "cosa è successo",
	},

	PersonKeywords: []string{
		"chi è", "chi e", "who is", "biografia", "bio", "età", "eta", "nato", "nata", "nascita",
		"born", "age", "linkedin", "profilo linkedin", "cv", "curriculum", "dove lavora",
		"moglie", "marito", "figlio", "figlia",
	},
	HonorificPattern: regexp.MustCompile(`\b(dott\.?|dr\.?|prof\.?|ing\.?|avv\.?|arch\.?|mr\.?|mrs\.?|ms\.?|sir|san|santa|papa|mons\.)\b`),
	LinkedInPattern:  regexp.MustCompile(`(?i)linkedin\.com/(in|pub)/`),
	PlaceWords: []string{
		"arena", "stadio", "teatro", "duomo", "basilica", "chiesa", "museo", "parco", "monumento",
		"castello", "lago", "mare", "fiume", "montagna", "valle", "isola", "spiaggia", "piazza",
		"via", "viale", "corso", "città", "citta", "comune", "provincia", "regione", "stato",
		"paese", "nazione", "hotel", "ristorante", "pizzeria", "trattoria", "bar", "caffè", "cafe",
		"negozio", "centro commerciale", "azienda", "società", "societa", "spa", "srl", "s.p.a",
		"brand", "modello", "prodotto",
	},
	NamePattern: regexp.MustCompile(
		`^` + namePart + `(\s+` + namePart + `){1,3}$`,
	),
	NamePrepositions: []string{"de", "di", "da", "del", "della", "dalla", "van", "von"},
	MinNameWords:     2,
	MaxNameWords:     6,
	QuestionPrefix:   regexp.MustCompile(`(?i)^(chi\s?è|who\s?is)\s*`),
}

const namePart = `(?:\p{Lu}\p{Ll}+|[dD]'\p{Lu}\p{Ll}+|(?:de|di|da|del|della|dalla|van|von)\s+\p{Lu}\p{Ll}+)`

// Classifier evaluates messages against a rule set.
type Classifier struct {
	rules Rules
}

func New(rules Rules) *Classifier {
	return &Classifier{rules: rules}
}

// Default classifies with DefaultRules.
var Default = New(DefaultRules)

func IsGreeting(msg string) bool       { return Default.IsGreeting(msg) }
func IsSmalltalk(msg string) bool      { return Default.IsSmalltalk(msg) }
func IsArticleRequest(msg string) bool { return Default.IsArticleRequest(msg) }
func NeedsWebSearch(msg string) bool   { return Default.NeedsWebSearch(msg) }
func IsPersonQuery(msg string) bool    { return Default.IsPersonQuery(msg) }
func PersonNameTokens(msg string) []string {
	return Default.PersonNameTokens(msg)
}

// IsGreeting matches messages that open with a plain salutation.
func (c *Classifier) IsGreeting(msg string) bool {
	return c.rules.GreetingPattern.MatchString(strings.TrimSpace(msg))
}

// IsSmalltalk reports short pleasantries and "are you there?" style pings.
// Anything longer than SmalltalkMaxRunes is never smalltalk.
func (c *Classifier) IsSmalltalk(msg string) bool {
	q := strings.ToLower(strings.TrimSpace(msg))
	if q == "" || utf8.RuneCountInString(q) > c.rules.SmalltalkMaxRunes {
		return false
	}
	for _, p := range c.rules.SmalltalkPhrases {
		if strings.Contains(q, p) {
			return true
		}
	}
	return c.rules.PresencePattern.MatchString(q)
}

func (c *Classifier) IsArticleRequest(msg string) bool {
	q := strings.ToLower(msg)
	for _, n := range c.rules.ArticleNeedles {
		if strings.Contains(q, n) {
			return true
		}
	}
	return c.rules.ArticlePattern.MatchString(q)
}

func (c *Classifier) NeedsWebSearch(msg string) bool {
	q := strings.ToLower(msg)
	for _, w := range c.rules.FreshnessWords {
		if strings.Contains(q, w) {
			return true
		}
	}
	return false
}

// IsPersonQuery applies the person rules top to bottom with early exit:
// keywords, honorifics, LinkedIn URLs, then the place-word veto, then the
// name-shaped checks. A place word always beats a name-shaped message.
func (c *Classifier) IsPersonQuery(msg string) bool {
	q := strings.TrimSpace(msg)
	if q == "" {
		return false
	}
	lower := strings.ToLower(q)

	for _, k := range c.rules.PersonKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	if c.rules.HonorificPattern.MatchString(lower) {
		return true
	}
	if c.rules.LinkedInPattern.MatchString(q) {
		return true
	}
	for _, w := range c.rules.PlaceWords {
		if strings.Contains(lower, w) {
			return false
		}
	}
	if c.looksLikePersonName(q) {
		return true
	}
	return c.isTwoNameTokens(q)
}

func (c *Classifier) looksLikePersonName(q string) bool {
	q = strings.TrimRight(strings.TrimSpace(q), "?.!")
	words := strings.Fields(q)
	if len(words) < c.rules.MinNameWords || len(words) > c.rules.MaxNameWords {
		return false
	}
	return c.rules.NamePattern.MatchString(strings.Join(words, " "))
}

// PersonNameTokens returns the first two lowercased name tokens of a query,
// dropping a "chi è"/"who is" prefix and surname prepositions.
func (c *Classifier) PersonNameTokens(msg string) []string {
	var tokens []string
	for _, w := range c.nameWords(msg) {
		tokens = append(tokens, strings.ToLower(w))
		if len(tokens) == 2 {
			break
		}
	}
	return tokens
}

// isTwoNameTokens is the last resort: exactly two capitalized name tokens.
func (c *Classifier) isTwoNameTokens(msg string) bool {
	words := c.nameWords(msg)
	if len(words) != 2 {
		return false
	}
	for _, w := range words {
		first, _ := utf8.DecodeRuneInString(w)
		if !unicode.IsUpper(first) {
			return false
		}
	}
	return true
}

func (c *Classifier) nameWords(msg string) []string {
	q := c.rules.QuestionPrefix.ReplaceAllString(strings.TrimSpace(msg), "")
	q = strings.Trim(q, " ?.!,;:\"'")

	var out []string
	for _, w := range strings.Fields(q) {
		if contains(c.rules.NamePrepositions, strings.ToLower(w)) {
			continue
		}
		w = strings.Trim(w, "’'\"")
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
