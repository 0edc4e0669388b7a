package entities

import "strings"

// CatalogEntry is one sensor listed by the live sensor directory or an archive day index
type CatalogEntry struct {
	SensorID int64
	Type     string
	Indoor   bool
}

// NormalizeType lower-cases a type name and replaces spaces with underscores
func NormalizeType(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}
