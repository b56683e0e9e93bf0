package properties

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

func RootPath() string {
	return os.Getenv("ROOT_PATH")
}

// DataPath joins elem below ROOT_PATH/data.
func DataPath(elem ...string) string {
	return filepath.Join(append([]string{RootPath(), "data"}, elem...)...)
}

func DiscordErrorNotificationUrl() string {
	return os.Getenv("DISCORD_ERROR_NOTIFICATION_URL")
}

func DiscordSuccessNotificationUrl() string {
	return os.Getenv("DISCORD_SUCCESS_NOTIFICATION_URL")
}

func ClusteringServiceAddr() string {
	return os.Getenv("CLUSTERING_SERVICE_ADDR")
}

// Settings are the tunables of a download run.
type Settings struct {
	GeometryFile  string
	FeatureKey    string
	FeatureValue  string
	CRS           string
	Mode          string
	StartDate     string
	EndDate       string
	Intervals     string
	Resolution    float64
	MaxTilePixels int
	Pacing        time.Duration
	MaxRetries    int
	Timeout       time.Duration
	TileWorkers   int
	MonthWorkers  int
	OutputDir     string
	// CacheMaxAge bounds the age of cached tile bodies. Zero disables
	// the cache.
	CacheMaxAge time.Duration
	Timelapse   bool
	LogLevel    string
	LogJSON     bool
}

func DefaultSettings() Settings {
	return Settings{
		GeometryFile:  "aoi.geojson",
		CRS:           "EPSG:4326",
		Mode:          "INDICES",
		StartDate:     "2025-07-01",
		EndDate:       "2025-07-31",
		Intervals:     "monthly",
		Resolution:    20,
		MaxTilePixels: 2500,
		Pacing:        time.Second,
		MaxRetries:    3,
		Timeout:       2 * time.Minute,
		TileWorkers:   1,
		MonthWorkers:  1,
		OutputDir:     "output",
		CacheMaxAge:   7 * 24 * time.Hour,
		LogLevel:      "info",
	}
}

// SettingsFromEnv starts from DefaultSettings and applies every MOSAIC_*
// variable that is set.
func SettingsFromEnv() (Settings, error) {
	s := DefaultSettings()
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	str("MOSAIC_GEOMETRY_FILE", &s.GeometryFile)
	str("MOSAIC_FEATURE_KEY", &s.FeatureKey)
	str("MOSAIC_FEATURE_VALUE", &s.FeatureValue)
	str("MOSAIC_CRS", &s.CRS)
	str("MOSAIC_MODE", &s.Mode)
	str("MOSAIC_START_DATE", &s.StartDate)
	str("MOSAIC_END_DATE", &s.EndDate)
	str("MOSAIC_INTERVALS", &s.Intervals)
	str("MOSAIC_OUTPUT_DIR", &s.OutputDir)
	str("MOSAIC_LOG_LEVEL", &s.LogLevel)

	if v := os.Getenv("MOSAIC_RESOLUTION"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return s, fmt.Errorf("MOSAIC_RESOLUTION: %w", err)
		}
		s.Resolution = f
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"MOSAIC_MAX_TILE_PIXELS", &s.MaxTilePixels},
		{"MOSAIC_MAX_RETRIES", &s.MaxRetries},
		{"MOSAIC_TILE_WORKERS", &s.TileWorkers},
		{"MOSAIC_MONTH_WORKERS", &s.MonthWorkers},
	}
	for _, it := range ints {
		v := os.Getenv(it.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return s, fmt.Errorf("%s: %w", it.key, err)
		}
		*it.dst = n
	}
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"MOSAIC_PACING", &s.Pacing},
		{"MOSAIC_TIMEOUT", &s.Timeout},
		{"MOSAIC_CACHE_MAX_AGE", &s.CacheMaxAge},
	}
	for _, it := range durations {
		v := os.Getenv(it.key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return s, fmt.Errorf("%s: %w", it.key, err)
		}
		*it.dst = d
	}
	bools := []struct {
		key string
		dst *bool
	}{
		{"MOSAIC_LOG_JSON", &s.LogJSON},
		{"MOSAIC_TIMELAPSE", &s.Timelapse},
	}
	for _, it := range bools {
		v := os.Getenv(it.key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return s, fmt.Errorf("%s: %w", it.key, err)
		}
		*it.dst = b
	}
	return s, nil
}
