package entities

import "sort"

// Setting names recognized by the application
const (
	SettingLineStyle    = "linestyle"
	SettingBucketFormat = "sql_date"
)

// Default setting values seeded on first run
const (
	DefaultLineStyle    = "solid"
	DefaultBucketFormat = "%Y-%m"
)

// BucketFormats lists the bucket granularities a caller may choose from
var BucketFormats = []string{"%Y", "%Y-%m", "%Y-%m-%d", "%Y-%m-%d %H"}

// LineStyles lists the plot line styles a caller may choose from
var LineStyles = []string{"solid", "dotted", "dashed", "dashdot"}

// DefaultSearchTypes is the type catalog seeded on first run
var DefaultSearchTypes = []string{
	"sds011",
	"bme280",
	"dht22",
	"htu21d",
	"sds021",
	"bmp280",
	"sps30",
	"dnms (laerm)",
	"sht31",
	"bmp180",
}

// Statistic selects the aggregate computed per bucket
type Statistic string

const (
	StatMax Statistic = "max"
	StatMin Statistic = "min"
	StatAvg Statistic = "avg"
)

// IsBucketFormat reports whether format is one of the supported bucket granularities
func IsBucketFormat(format string) bool {
	for _, f := range BucketFormats {
		if f == format {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string][]Reading) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
