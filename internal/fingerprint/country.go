package fingerprint

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// InvalidCountry is rendered for codes that are not ISO 3166-1 alpha-2 countries
const InvalidCountry = "Invalid Code"

var regionNames = display.English.Regions()

// reserved holds exceptionally reserved ISO 3166-1 codes that CLDR still names as
// regions (UK, EU, Ascension Island and so on).
var reserved = map[string]bool{
	"AC": true, "CP": true, "DG": true, "EA": true, "EU": true, "EZ": true,
	"FX": true, "IC": true, "SU": true, "TA": true, "UK": true, "UN": true,
}

// CountryName resolves a two-letter country code to its English display name
func CountryName(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 2 || !isAlpha(code) || reserved[code] {
		return InvalidCountry
	}

	region, err := language.ParseRegion(code)
	if err != nil || !region.IsCountry() || region.IsPrivateUse() {
		return InvalidCountry
	}

	name := regionNames.Name(region)
	if name == "" {
		return InvalidCountry
	}
	return name
}

func isAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}
