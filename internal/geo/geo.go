// Package geo resolves hierarchical region codes to centroids and measures
// great-circle distances between them.
package geo

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	earthRadiusKm = 6371.0

	// minResolvableLength stops parent-prefix fallback at country level.
	minResolvableLength = 2

	// FileName is the reference file looked up inside REFERENCE_DATA_DIR.
	FileName = "centroids.yaml"
)

//go:embed data/centroids.yaml
var defaultCentroidsYAML []byte

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64
	Lon float64
}

// Reference is an immutable region-code to centroid table.
type Reference struct {
	centroids map[string]Point
	names     map[string]string
}

type centroidFile struct {
	Centroids []struct {
		Code string  `yaml:"code"`
		Name string  `yaml:"name"`
		Lat  float64 `yaml:"lat"`
		Lon  float64 `yaml:"lon"`
	} `yaml:"centroids"`
}

var (
	defaultOnce sync.Once
	defaultRef  *Reference
	defaultErr  error
)

// Default returns the embedded reference table.
func Default() (*Reference, error) {
	defaultOnce.Do(func() {
		defaultRef, defaultErr = Load(bytes.NewReader(defaultCentroidsYAML))
	})
	return defaultRef, defaultErr
}

// LoadDir reads FileName from dir, falling back to the embedded table when dir is empty.
func LoadDir(dir string) (*Reference, error) {
	if strings.TrimSpace(dir) == "" {
		return Default()
	}
	path := filepath.Join(dir, FileName)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a centroid YAML document.
func Load(r io.Reader) (*Reference, error) {
	var file centroidFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode centroids: %w", err)
	}

	ref := &Reference{
		centroids: make(map[string]Point, len(file.Centroids)),
		names:     make(map[string]string, len(file.Centroids)),
	}
	for i, entry := range file.Centroids {
		code := NormalizeCode(entry.Code)
		if code == "" {
			return nil, fmt.Errorf("centroids[%d]: code is empty", i)
		}
		if entry.Lat < -90 || entry.Lat > 90 || entry.Lon < -180 || entry.Lon > 180 {
			return nil, fmt.Errorf("centroids[%d] %s: coordinates out of range", i, code)
		}
		if _, dup := ref.centroids[code]; dup {
			return nil, fmt.Errorf("centroids[%d]: duplicate code %s", i, code)
		}
		ref.centroids[code] = Point{Lat: entry.Lat, Lon: entry.Lon}
		ref.names[code] = strings.TrimSpace(entry.Name)
	}
	return ref, nil
}

// NormalizeCode upper-cases a region code and strips separators.
func NormalizeCode(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Len returns the number of known codes.
func (r *Reference) Len() int {
	if r == nil {
		return 0
	}
	return len(r.centroids)
}

// Name returns the display name for an exact code.
func (r *Reference) Name(code string) string {
	if r == nil {
		return ""
	}
	return r.names[NormalizeCode(code)]
}

// Centroid looks up an exact code.
func (r *Reference) Centroid(code string) (Point, bool) {
	if r == nil {
		return Point{}, false
	}
	p, ok := r.centroids[NormalizeCode(code)]
	return p, ok
}

// Resolve looks up code and, failing that, its parent prefixes down to the
// country level. It returns the code that actually resolved.
func (r *Reference) Resolve(code string) (Point, string, bool) {
	if r == nil {
		return Point{}, "", false
	}
	normalized := NormalizeCode(code)
	for n := len(normalized); n >= minResolvableLength; n-- {
		candidate := normalized[:n]
		if p, ok := r.centroids[candidate]; ok {
			return p, candidate, true
		}
	}
	return Point{}, "", false
}

// Nearest returns the distance from origin to the closest resolvable centroid
// among codes. Ties keep the earliest code.
func (r *Reference) Nearest(origin Point, codes []string) (float64, string, bool) {
	best := math.Inf(1)
	bestCode := ""
	for _, code := range codes {
		p, resolved, ok := r.Resolve(code)
		if !ok {
			continue
		}
		if d := HaversineKm(origin, p); d < best {
			best = d
			bestCode = resolved
		}
	}
	if bestCode == "" {
		return 0, "", false
	}
	return best, bestCode, true
}

// HaversineKm returns the great-circle distance between two points.
func HaversineKm(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
