// Package weather implements the get_weather capability on the Open-Meteo APIs.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/aretw0/threadline/pkg/domain"
)

const (
	DefaultGeocodingURL = "https://geocoding-api.open-meteo.com/v1/search"
	DefaultForecastURL  = "https://api.open-meteo.com/v1/forecast"
)

// ErrNoLocation is returned when neither the arguments nor the query name a place.
var ErrNoLocation = errors.New("weather: no location in request")

// Options configures the client. It is decoded from the capability options map.
type Options struct {
	GeocodingURL string `mapstructure:"geocoding_url"`
	ForecastURL  string `mapstructure:"forecast_url"`
	// Units is "celsius" (default) or "fahrenheit".
	Units string `mapstructure:"units"`
	// DefaultCity is used when the request names no place.
	DefaultCity string `mapstructure:"default_city"`
	Days        int    `mapstructure:"days"`
}

// Client answers weather questions for a named place.
type Client struct {
	http *http.Client
	opts Options
}

// New creates a client with a modest timeout.
func New(opts Options) *Client {
	return NewWithClient(opts, &http.Client{Timeout: 10 * time.Second})
}

// NewWithClient creates a client using the supplied HTTP client.
func NewWithClient(opts Options, hc *http.Client) *Client {
	if opts.GeocodingURL == "" {
		opts.GeocodingURL = DefaultGeocodingURL
	}
	if opts.ForecastURL == "" {
		opts.ForecastURL = DefaultForecastURL
	}
	if opts.Units != "fahrenheit" {
		opts.Units = "celsius"
	}
	if opts.Days <= 0 {
		opts.Days = 3
	}
	return &Client{http: hc, opts: opts}
}

// Invoke implements ports.Capability. The place comes from the "city" argument
// or is extracted from the query. Asking about tomorrow adds the next day's
// forecast to the current conditions.
func (c *Client) Invoke(ctx context.Context, req domain.Request) (string, error) {
	city := argString(req.Args, "city", "location", "place")
	if city == "" {
		city = CityFromQuery(req.Query)
	}
	if city == "" {
		city = c.opts.DefaultCity
	}
	if city == "" {
		return "", ErrNoLocation
	}

	place, err := c.geocode(ctx, city)
	if err != nil {
		return "", err
	}
	fc, err := c.forecast(ctx, place)
	if err != nil {
		return "", err
	}

	day := 0
	if strings.EqualFold(argString(req.Args, "day", "when"), "tomorrow") || mentionsTomorrow(req.Query) {
		day = 1
	}
	return fc.describe(place, c.unit(), day), nil
}

type place struct {
	Name      string  `json:"name"`
	Country   string  `json:"country"`
	Admin1    string  `json:"admin1"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (p place) label() string {
	if p.Country == "" {
		return p.Name
	}
	return p.Name + ", " + p.Country
}

func (c *Client) geocode(ctx context.Context, city string) (place, error) {
	q := url.Values{}
	q.Set("name", city)
	q.Set("count", "1")
	q.Set("language", "en")
	q.Set("format", "json")

	var resp struct {
		Results []place `json:"results"`
	}
	if err := c.getJSON(ctx, c.opts.GeocodingURL, q, &resp); err != nil {
		return place{}, fmt.Errorf("weather: geocode %q: %w", city, err)
	}
	if len(resp.Results) == 0 {
		return place{}, fmt.Errorf("weather: location %q not found", city)
	}
	return resp.Results[0], nil
}

type forecast struct {
	Current struct {
		Temperature float64 `json:"temperature_2m"`
		Humidity    float64 `json:"relative_humidity_2m"`
		WeatherCode int     `json:"weather_code"`
		WindSpeed   float64 `json:"wind_speed_10m"`
	} `json:"current"`
	Daily struct {
		Time          []string  `json:"time"`
		WeatherCode   []int     `json:"weather_code"`
		Max           []float64 `json:"temperature_2m_max"`
		Min           []float64 `json:"temperature_2m_min"`
		Precipitation []float64 `json:"precipitation_probability_max"`
	} `json:"daily"`
}

func (c *Client) forecast(ctx context.Context, p place) (*forecast, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(p.Latitude, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(p.Longitude, 'f', 4, 64))
	q.Set("current", "temperature_2m,relative_humidity_2m,weather_code,wind_speed_10m")
	q.Set("daily", "weather_code,temperature_2m_max,temperature_2m_min,precipitation_probability_max")
	q.Set("timezone", "auto")
	q.Set("forecast_days", strconv.Itoa(c.opts.Days))
	q.Set("temperature_unit", c.opts.Units)

	var fc forecast
	if err := c.getJSON(ctx, c.opts.ForecastURL, q, &fc); err != nil {
		return nil, fmt.Errorf("weather: forecast for %s: %w", p.label(), err)
	}
	return &fc, nil
}

func (c *Client) unit() string {
	if c.opts.Units == "fahrenheit" {
		return "°F"
	}
	return "°C"
}

func (f *forecast) describe(p place, unit string, day int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (now): %.1f%s, %s, humidity %.0f%%, wind %.1f km/h",
		p.label(), f.Current.Temperature, unit, Describe(f.Current.WeatherCode),
		f.Current.Humidity, f.Current.WindSpeed)

	d := f.Daily
	if day < len(d.Time) && day < len(d.Max) && day < len(d.Min) && day < len(d.WeatherCode) {
		fmt.Fprintf(&b, "\n%s (%s): %s, %.1f%s to %.1f%s",
			p.label(), d.Time[day], Describe(d.WeatherCode[day]), d.Min[day], unit, d.Max[day], unit)
		if day < len(d.Precipitation) {
			fmt.Fprintf(&b, ", precipitation chance %.0f%%", d.Precipitation[day])
		}
	}
	return b.String()
}

func (c *Client) getJSON(ctx context.Context, endpoint string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var tomorrowPattern = regexp.MustCompile(`(?i)\btomorrow\b`)

var prepositions = map[string]bool{"in": true, "at": true, "for": true, "of": true, "near": true}

var timeWords = map[string]bool{
	"today": true, "tomorrow": true, "tonight": true, "now": true, "right": true,
	"currently": true, "this": true, "next": true, "please": true, "the": true,
	"like": true, "later": true,
}

// CityFromQuery extracts the place named after the last "in", "at", "for",
// "of" or "near", so "weather for tomorrow in Pune" yields "Pune".
func CityFromQuery(query string) string {
	words := strings.FieldsFunc(query, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune("?!,;:()\"", r)
	})
	for i := len(words) - 2; i >= 0; i-- {
		if !prepositions[strings.ToLower(words[i])] {
			continue
		}
		var city []string
		for _, w := range words[i+1:] {
			w = strings.TrimRight(w, ".")
			lw := strings.ToLower(w)
			if timeWords[lw] || prepositions[lw] {
				break
			}
			city = append(city, w)
		}
		if len(city) > 0 {
			return strings.Join(city, " ")
		}
	}
	return ""
}

func mentionsTomorrow(q string) bool {
	return tomorrowPattern.MatchString(q)
}

func argString(args map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := args[k].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
