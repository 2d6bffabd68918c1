package normalizer

import (
	"regexp"
	"strings"
)

// MerchantInfo is the sanitized merchant guess for one description.
type MerchantInfo struct {
	OriginalName   string `json:"original_name"`
	NormalizedName string `json:"normalized_name"`
	Known          bool   `json:"known"`
}

// MerchantPattern maps a description pattern to a canonical merchant.
type MerchantPattern struct {
	Pattern *regexp.Regexp
	Name    string
}

// MerchantSanitizer strips bank noise from descriptions and recognizes
// well-known merchants. The guess is advisory only; rules and the user
// remain the classification authority.
type MerchantSanitizer struct {
	patterns []MerchantPattern
}

func NewMerchantSanitizer() *MerchantSanitizer {
	return &MerchantSanitizer{patterns: defaultMerchantPatterns()}
}

// Sanitize cleans a raw description into a merchant guess.
func (s *MerchantSanitizer) Sanitize(raw string) MerchantInfo {
	result := MerchantInfo{OriginalName: raw}

	cleaned := cleanMerchantName(raw)
	for _, pattern := range s.patterns {
		if pattern.Pattern.MatchString(cleaned) {
			result.NormalizedName = pattern.Name
			result.Known = true
			return result
		}
	}

	result.NormalizedName = titleCase(cleaned)
	return result
}

// AddPattern registers a custom merchant pattern at lowest precedence.
func (s *MerchantSanitizer) AddPattern(pattern, name string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.patterns = append(s.patterns, MerchantPattern{Pattern: re, Name: name})
	return nil
}

var (
	refPattern   = regexp.MustCompile(`\s+[#*]?\d{4,}$`)
	datePattern  = regexp.MustCompile(`\s+\d{1,2}/\d{1,2}/?$`)
	cardPattern  = regexp.MustCompile(`(?i)\s+CARD\s+\d+$`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// cleanMerchantName strips instrument prefixes and trailing reference
// noise that banks append to descriptions.
func cleanMerchantName(raw string) string {
	result := strings.TrimSpace(raw)

	prefixes := []string{
		"COMPRA ", "COMPRAS ", "PAGAMENTO ", "PAG ", "PGO ",
		"TRF ", "TRANSF ", "TRANSFERENCIA ",
		"MB WAY ", "MBWAY ", "MULTIBANCO ",
		"VISA ", "MASTERCARD ", "MAESTRO ",
		"PURCHASE ", "PAYMENT ", "POS ", "DD ", "SEPA ",
	}
	upper := strings.ToUpper(result)
	for _, prefix := range prefixes {
		if strings.HasPrefix(upper, prefix) {
			result = result[len(prefix):]
			break
		}
	}

	result = refPattern.ReplaceAllString(result, "")
	result = cardPattern.ReplaceAllString(result, "")
	result = datePattern.ReplaceAllString(result, "")
	result = spacePattern.ReplaceAllString(result, " ")

	return strings.TrimSpace(result)
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, word := range words {
		if len(word) > 0 {
			words[i] = strings.ToUpper(string(word[0])) + strings.ToLower(word[1:])
		}
	}
	return strings.Join(words, " ")
}

func defaultMerchantPatterns() []MerchantPattern {
	return []MerchantPattern{
		{regexp.MustCompile(`(?i)PINGO\s*DOCE|PGO\s*DOCE`), "Pingo Doce"},
		{regexp.MustCompile(`(?i)CONTINENTE`), "Continente"},
		{regexp.MustCompile(`(?i)LIDL`), "Lidl"},
		{regexp.MustCompile(`(?i)ALDI`), "Aldi"},
		{regexp.MustCompile(`(?i)MERCADONA`), "Mercadona"},
		{regexp.MustCompile(`(?i)TESCO`), "Tesco"},
		{regexp.MustCompile(`(?i)WHOLE\s*FOODS|WHOLEFDS`), "Whole Foods"},

		{regexp.MustCompile(`(?i)STARBUCKS`), "Starbucks"},
		{regexp.MustCompile(`(?i)MC\s*DONALDS|MCDONALD`), "McDonald's"},
		{regexp.MustCompile(`(?i)BURGER\s*KING`), "Burger King"},
		{regexp.MustCompile(`(?i)UBER\s*EATS`), "Uber Eats"},
		{regexp.MustCompile(`(?i)GLOVO`), "Glovo"},
		{regexp.MustCompile(`(?i)DELIVEROO`), "Deliveroo"},

		{regexp.MustCompile(`(?i)\bUBER\b`), "Uber"},
		{regexp.MustCompile(`(?i)\bBOLT\b`), "Bolt"},
		{regexp.MustCompile(`(?i)\bLYFT\b`), "Lyft"},
		{regexp.MustCompile(`(?i)RYANAIR`), "Ryanair"},
		{regexp.MustCompile(`(?i)EASYJET`), "easyJet"},

		{regexp.MustCompile(`(?i)AMAZON|AMZN`), "Amazon"},
		{regexp.MustCompile(`(?i)\bZARA\b`), "Zara"},
		{regexp.MustCompile(`(?i)\bIKEA\b`), "IKEA"},

		{regexp.MustCompile(`(?i)NETFLIX`), "Netflix"},
		{regexp.MustCompile(`(?i)SPOTIFY`), "Spotify"},
		{regexp.MustCompile(`(?i)DISNEY\s*\+|DISNEYPLUS`), "Disney+"},
		{regexp.MustCompile(`(?i)\bSTEAM\b`), "Steam"},

		{regexp.MustCompile(`(?i)VODAFONE`), "Vodafone"},
		{regexp.MustCompile(`(?i)\bEDP\b`), "EDP"},

		{regexp.MustCompile(`(?i)REVOLUT`), "Revolut"},
		{regexp.MustCompile(`(?i)PAYPAL`), "PayPal"},
		{regexp.MustCompile(`(?i)\bWISE\b`), "Wise"},
	}
}
