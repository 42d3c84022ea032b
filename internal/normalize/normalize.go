package normalize

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowers, strips diacritics, collapses internal whitespace and trims.
// Every case- and accent-insensitive comparison in the pipeline goes through
// this form. The transform chain carries internal buffers, so it is built
// per call rather than shared.
func Fold(s string) string {
	chain := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(chain, s)
	if err != nil {
		stripped = s
	}
	return collapseWhitespace(strings.ToLower(stripped))
}

// Name folds and strips punctuation except hyphens, then collapses
// whitespace again. This is the normalized_full_name form.
func Name(s string) string {
	folded := Fold(s)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(' ')
		}
	}
	return collapseWhitespace(b.String())
}

// NationalID holds a parsed national identifier in canonical form.
type NationalID struct {
	Body       string
	CheckDigit byte
}

// String renders the canonical NNNNNNNN-D form.
func (n NationalID) String() string {
	return fmt.Sprintf("%s-%c", n.Body, n.CheckDigit)
}

// ParseNationalID accepts "12345678-5", "12.345.678-5" or "123456785",
// verifies the modulo-11 check digit and returns the canonical form.
func ParseNationalID(s string) (NationalID, error) {
	cleaned := strings.ToUpper(strings.TrimSpace(s))
	cleaned = strings.NewReplacer(".", "", "-", "", " ", "").Replace(cleaned)
	if len(cleaned) < 2 {
		return NationalID{}, fmt.Errorf("national id too short")
	}

	body := cleaned[:len(cleaned)-1]
	check := cleaned[len(cleaned)-1]

	for i := 0; i < len(body); i++ {
		if body[i] < '0' || body[i] > '9' {
			return NationalID{}, fmt.Errorf("national id body must be numeric")
		}
	}
	if check != 'K' && (check < '0' || check > '9') {
		return NationalID{}, fmt.Errorf("invalid check character %q", check)
	}

	expected := computeCheckDigit(body)
	if check != expected {
		return NationalID{}, &CheckDigitError{Expected: expected, Got: check}
	}
	return NationalID{Body: body, CheckDigit: check}, nil
}

// CheckDigitError reports a well-formed id whose verifier does not match.
type CheckDigitError struct {
	Expected byte
	Got      byte
}

func (e *CheckDigitError) Error() string {
	return fmt.Sprintf("check digit mismatch: expected %c, got %c", e.Expected, e.Got)
}

// computeCheckDigit applies the standard modulo-11 scheme: digits multiplied
// right-to-left by the repeating weights 2..7, sum mod 11, 0 -> '0',
// 1 -> 'K', otherwise 11 - r.
func computeCheckDigit(body string) byte {
	sum := 0
	weight := 2
	for i := len(body) - 1; i >= 0; i-- {
		sum += int(body[i]-'0') * weight
		weight++
		if weight > 7 {
			weight = 2
		}
	}
	switch r := sum % 11; r {
	case 0:
		return '0'
	case 1:
		return 'K'
	default:
		return byte('0' + 11 - r)
	}
}

// Email folds the address and checks for a plausible shape: a non-empty part
// before the last "@" and a dotted domain after it. The case-folded local part is kept verbatim,
// including "+" tags.
func Email(s string) (string, error) {
	folded := Fold(s)
	if folded == "" {
		return "", fmt.Errorf("email is empty")
	}
	at := strings.LastIndex(folded, "@")
	if at <= 0 || at == len(folded)-1 {
		return "", fmt.Errorf("email missing local part or domain")
	}
	if strings.Contains(folded, " ") {
		return "", fmt.Errorf("email contains whitespace")
	}
	domain := folded[at+1:]
	dot := strings.Index(domain, ".")
	if dot <= 0 || dot == len(domain)-1 {
		return "", fmt.Errorf("email domain is not dotted")
	}
	return folded, nil
}

// EmailLocalPart returns the part before the "@" of an already-normalized
// address, or the empty string.
func EmailLocalPart(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return ""
	}
	return email[:at]
}

// Phone strips spaces, dashes and parentheses, keeps a leading "+" and
// rejects anything with fewer than eight digits.
func Phone(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	var b strings.Builder
	digits := 0
	for i, r := range trimmed {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return "", fmt.Errorf("phone contains invalid character %q", r)
		}
	}
	if digits < 8 {
		return "", fmt.Errorf("phone has %d digits, need at least 8", digits)
	}
	return b.String(), nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
