// Package validate implements component C4: structural validation of
// usernames, room names, and message content, plus a single-pass
// sanitizer and a spam heuristic. It never touches the store or the
// wire layer — it's pure functions over strings so the rest of the
// server can unit test against it directly.
package validate

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{2,30}$`)
	roomNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_\- ]{3,50}$`)
)

var (
	ErrUsernameInvalid = errors.New("validate: username must be 2-30 chars of letters, digits, underscore, or hyphen")
	ErrRoomNameInvalid = errors.New("validate: room name must be 3-50 chars of letters, digits, space, underscore, or hyphen")
	ErrContentEmpty    = errors.New("validate: message content cannot be empty")
	ErrContentTooLong  = errors.New("validate: message content exceeds 4096 characters")

	// ErrSQLPatternDetected is returned by Sanitize when content matches
	// the SQL-injection-shaped deny list; such content is rejected
	// outright rather than cleaned.
	ErrSQLPatternDetected = errors.New("validate: content matches a disallowed SQL pattern")
)

// MaxContentLength bounds a single message body, after sanitation.
const MaxContentLength = 4096

// Username validates a proposed username against the wire's username
// grammar.
func Username(name string) error {
	if !usernamePattern.MatchString(name) {
		return ErrUsernameInvalid
	}
	return nil
}

// RoomName validates a proposed room name.
func RoomName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || !roomNamePattern.MatchString(name) {
		return ErrRoomNameInvalid
	}
	return nil
}

// Content validates message content length and emptiness; sanitization
// is a separate step since a message can be valid-but-dirty (e.g.
// containing control characters that Sanitize strips).
func Content(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrContentEmpty
	}
	if len([]rune(content)) > MaxContentLength {
		return ErrContentTooLong
	}
	return nil
}

// sqlDenyList holds regexes shaped like common SQL-injection payloads.
// Matching any one of them rejects the input outright instead of trying
// to clean it, since a string built to look like a query fragment isn't
// salvageable chat content.
var sqlDenyList = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bunion\b[\s\S]{0,40}\bselect\b`),
	regexp.MustCompile(`(?i)\bselect\b[\s\S]{0,80}\bfrom\b`),
	regexp.MustCompile(`(?i)\binsert\b\s+\binto\b`),
	regexp.MustCompile(`(?i)\bdelete\b\s+\bfrom\b`),
	regexp.MustCompile(`(?i)\bdrop\b\s+\b(table|database)\b`),
	regexp.MustCompile(`(?i)\bupdate\b[\s\S]{0,40}\bset\b`),
	regexp.MustCompile(`(?i)\bxp_cmdshell\b`),
	regexp.MustCompile(`(?i)'\s*or\s*'?1'?\s*=\s*'?1`),
	regexp.MustCompile(`--\s*$`),
	regexp.MustCompile(`;\s*--`),
	regexp.MustCompile(`/\*[\s\S]*?\*/`),
}

// xssDenyList holds regexes for the script-bearing tags and schemes
// spec §4.4 names; each match is stripped from the content entirely
// (not escaped) since the element or scheme has no legitimate chat use.
var xssDenyList = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script[^>]*>.*?</script\s*>`),
	regexp.MustCompile(`(?is)<iframe[^>]*>.*?</iframe\s*>`),
	regexp.MustCompile(`(?is)<object[^>]*>.*?</object\s*>`),
	regexp.MustCompile(`(?is)<embed[^>]*/?>`),
	regexp.MustCompile(`(?i)<script[^>]*/?>`),
	regexp.MustCompile(`(?i)<iframe[^>]*/?>`),
	regexp.MustCompile(`(?i)<object[^>]*/?>`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)vbscript:`),
	regexp.MustCompile(`(?i)\son\w+\s*=\s*"[^"]*"`),
	regexp.MustCompile(`(?i)\son\w+\s*=\s*'[^']*'`),
	regexp.MustCompile(`(?i)\son\w+\s*=\s*[^\s>]+`),
}

// angleQuoteEscaper escapes the non-ampersand characters spec §4.4
// names to their HTML entities; applied after the XSS deny list has
// already removed whole dangerous elements, so this pass only needs to
// neutralize what's left.
var angleQuoteEscaper = strings.NewReplacer(
	`<`, "&lt;",
	`>`, "&gt;",
	`"`, "&quot;",
	`'`, "&#39;",
	`/`, "&#47;",
)

// entityOrAmp matches either one of the entities this package produces
// or a single bare ampersand.
var entityOrAmp = regexp.MustCompile(`&(amp|lt|gt|quot|#39|#47);|&`)

// escapeAmpersands escapes a bare `&` to `&amp;` but leaves an already-
// produced entity (from a prior Sanitize pass, or one just introduced by
// angleQuoteEscaper) untouched. Without this distinction, re-sanitizing
// already-sanitized content would double-escape every `&` and violate
// the sanitize(sanitize(x)) == sanitize(x) invariant.
func escapeAmpersands(s string) string {
	return entityOrAmp.ReplaceAllStringFunc(s, func(m string) string {
		if m == "&" {
			return "&amp;"
		}
		return m
	})
}

// isStrippedControl reports whether r is one of the non-printing byte
// values spec §4.4 requires Sanitize to strip, excluding \n and \t
// which a chat message may legitimately contain.
func isStrippedControl(r rune) bool {
	switch {
	case r == 0x7F:
		return true
	case r >= 0x00 && r <= 0x08:
		return true
	case r == 0x0B || r == 0x0C:
		return true
	case r >= 0x0E && r <= 0x1F:
		return true
	default:
		return false
	}
}

// Sanitize runs a deterministic pass over input: it first rejects
// content shaped like a SQL-injection payload, then strips XSS-shaped
// tags/schemes/event-handlers, escapes the remaining `<>"'/&` to HTML
// entities, strips disallowed control bytes, and collapses runs of 3+
// whitespace characters down to one space. sanitize(sanitize(x)) ==
// sanitize(x) holds because the deny lists and escaper only ever act on
// raw angle brackets, quotes, and bare ampersands — none of which
// remain once a string has already been through this pass.
func Sanitize(input string) (string, error) {
	for _, re := range sqlDenyList {
		if re.MatchString(input) {
			return "", ErrSQLPatternDetected
		}
	}

	cleaned := input
	for _, re := range xssDenyList {
		cleaned = re.ReplaceAllString(cleaned, "")
	}

	cleaned = angleQuoteEscaper.Replace(cleaned)
	cleaned = escapeAmpersands(cleaned)

	var b strings.Builder
	b.Grow(len(cleaned))
	for _, r := range cleaned {
		switch {
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case isStrippedControl(r):
			continue
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(spaceRun.ReplaceAllString(b.String(), " ")), nil
}

// spaceRun matches the runs of three or more spaces that Sanitize
// collapses to one.
var spaceRun = regexp.MustCompile(` {3,}`)

// SpamThreshold is the score at or above which IsSpam reports content as
// spam (spec §4.4: "isSpam when score ≥ 2").
const SpamThreshold = 2

// shortURLDomains lists link-shortener domains spec §4.4 heuristic (d)
// treats as suspicious.
var shortURLDomains = []string{
	"bit.ly", "tinyurl.com", "goo.gl", "t.co", "ow.ly", "is.gd", "buff.ly", "adf.ly", "shorte.st",
}

var urlPattern = regexp.MustCompile(`(?i)https?://([a-z0-9.\-]+)`)

// SpamScore awards one point each for: (a) a single word making up more
// than 40% of the message's tokens, once there are at least 4 tokens to
// dominate, (b) more than 90% capital letters when content is longer
// than 10 runes, (c) an exact duplicate of any string in recentMessages,
// (d) a link to a known short-URL domain, and (e) length exceeding 80%
// of MaxContentLength. The maximum score is 5.
func SpamScore(content string, recentMessages []string) int {
	if content == "" {
		return 0
	}

	score := 0

	if words := strings.Fields(strings.ToLower(content)); len(words) >= 4 {
		counts := make(map[string]int, len(words))
		for _, w := range words {
			counts[w]++
		}
		for _, c := range counts {
			if float64(c)/float64(len(words)) > 0.4 {
				score++
				break
			}
		}
	}

	if runes := []rune(content); len(runes) > 10 {
		letters, upper := 0, 0
		for _, r := range runes {
			if unicode.IsLetter(r) {
				letters++
				if unicode.IsUpper(r) {
					upper++
				}
			}
		}
		if letters > 0 && float64(upper)/float64(letters) > 0.9 {
			score++
		}
	}

	for _, prior := range recentMessages {
		if prior == content {
			score++
			break
		}
	}

	hasShortURL := false
	for _, match := range urlPattern.FindAllStringSubmatch(content, -1) {
		host := strings.ToLower(match[1])
		for _, d := range shortURLDomains {
			if host == d || strings.HasSuffix(host, "."+d) {
				hasShortURL = true
				break
			}
		}
		if hasShortURL {
			break
		}
	}
	if hasShortURL {
		score++
	}

	if float64(len([]rune(content))) > 0.8*float64(MaxContentLength) {
		score++
	}

	return score
}

// IsSpam reports whether score meets SpamThreshold.
func IsSpam(score int) bool {
	return score >= SpamThreshold
}
