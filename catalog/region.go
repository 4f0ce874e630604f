package catalog

import (
	"strings"

	"go-storefront/web/db"
)

const brazil = "BR"

func NormalizeCountry(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// RegionMatches reports whether a product region admits a viewer from country.
// NON_BR admits everyone outside Brazil, including an unresolved country.
func RegionMatches(region, country string) bool {
	region = NormalizeCountry(region)
	country = NormalizeCountry(country)
	if region == db.RegionNonBR {
		return country != brazil
	}
	return region != "" && region == country
}

// Visible reports whether any region matches. No regions means hidden.
func Visible(regions []db.ProductRegion, country string) bool {
	for _, r := range regions {
		if RegionMatches(r.CountryCode, country) {
			return true
		}
	}
	return false
}

// ValidRegionCode accepts two ASCII letters or the NON_BR sentinel.
func ValidRegionCode(code string) bool {
	code = NormalizeCountry(code)
	if code == db.RegionNonBR {
		return true
	}
	if len(code) != 2 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return false
		}
	}
	return true
}
