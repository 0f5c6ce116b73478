package widget

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Theme selects the color scheme of rendered cards.
type Theme string

// Layout selects how testimonials are arranged.
type Layout string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"

	LayoutCarousel Layout = "carousel"
	LayoutGrid     Layout = "grid"
	LayoutList     Layout = "list"

	DefaultTheme           = ThemeLight
	DefaultLayout          = LayoutCarousel
	DefaultShowRating      = true
	DefaultShowDate        = true
	DefaultPrimaryColor    = "#3b82f6"
	DefaultBackgroundColor = "#ffffff"
	DefaultTextColor       = "#1f2937"
	DefaultBorderRadius    = 8
	DefaultMaxTestimonials = 5

	MaxBorderRadius      = 20
	MaxTestimonialsLimit = 20

	configKeyTheme           = "theme"
	configKeyLayout          = "layout"
	configKeyShowRating      = "showRating"
	configKeyShowDate        = "showDate"
	configKeyPrimaryColor    = "primaryColor"
	configKeyBackgroundColor = "backgroundColor"
	configKeyTextColor       = "textColor"
	configKeyBorderRadius    = "borderRadius"
	configKeyMaxTestimonials = "maxTestimonials"
	configKeyDocument        = "document"

	issueReasonWrongType    = "wrong type"
	issueReasonOutOfRange   = "out of range"
	issueReasonUnknownValue = "unknown value"
)

var (
	ErrInvalidTheme           = errors.New("invalid_theme")
	ErrInvalidLayout          = errors.New("invalid_layout")
	ErrInvalidColor           = errors.New("invalid_color")
	ErrInvalidBorderRadius    = errors.New("invalid_border_radius")
	ErrInvalidMaxTestimonials = errors.New("invalid_max_testimonials")
	ErrEmptyPatch             = errors.New("nothing_to_update")
)

var hexColorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Config is the fully populated display configuration of a widget.
type Config struct {
	Theme           Theme  `json:"theme"`
	Layout          Layout `json:"layout"`
	ShowRating      bool   `json:"showRating"`
	ShowDate        bool   `json:"showDate"`
	PrimaryColor    string `json:"primaryColor"`
	BackgroundColor string `json:"backgroundColor"`
	TextColor       string `json:"textColor"`
	BorderRadius    int    `json:"borderRadius"`
	MaxTestimonials int    `json:"maxTestimonials"`
}

// Patch carries a partial configuration update. Nil fields keep their current value.
type Patch struct {
	Theme           *Theme  `json:"theme,omitempty"`
	Layout          *Layout `json:"layout,omitempty"`
	ShowRating      *bool   `json:"showRating,omitempty"`
	ShowDate        *bool   `json:"showDate,omitempty"`
	PrimaryColor    *string `json:"primaryColor,omitempty"`
	BackgroundColor *string `json:"backgroundColor,omitempty"`
	TextColor       *string `json:"textColor,omitempty"`
	BorderRadius    *int    `json:"borderRadius,omitempty"`
	MaxTestimonials *int    `json:"maxTestimonials,omitempty"`
}

// ConfigIssue names a stored field that was ignored because it did not pass validation.
type ConfigIssue struct {
	Field  string
	Reason string
}

func (issue ConfigIssue) String() string {
	return issue.Field + ": " + issue.Reason
}

// DefaultConfig returns the configuration used for every field that is not stored.
func DefaultConfig() Config {
	return Config{
		Theme:           DefaultTheme,
		Layout:          DefaultLayout,
		ShowRating:      DefaultShowRating,
		ShowDate:        DefaultShowDate,
		PrimaryColor:    DefaultPrimaryColor,
		BackgroundColor: DefaultBackgroundColor,
		TextColor:       DefaultTextColor,
		BorderRadius:    DefaultBorderRadius,
		MaxTestimonials: DefaultMaxTestimonials,
	}
}

func (theme Theme) valid() bool {
	return theme == ThemeLight || theme == ThemeDark
}

func (layout Layout) valid() bool {
	return layout == LayoutCarousel || layout == LayoutGrid || layout == LayoutList
}

// IsEmpty reports whether the patch changes nothing.
func (patch Patch) IsEmpty() bool {
	return patch.Theme == nil &&
		patch.Layout == nil &&
		patch.ShowRating == nil &&
		patch.ShowDate == nil &&
		patch.PrimaryColor == nil &&
		patch.BackgroundColor == nil &&
		patch.TextColor == nil &&
		patch.BorderRadius == nil &&
		patch.MaxTestimonials == nil
}

// Validate checks every supplied field.
func (patch Patch) Validate() error {
	if patch.Theme != nil && !patch.Theme.valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTheme, *patch.Theme)
	}
	if patch.Layout != nil && !patch.Layout.valid() {
		return fmt.Errorf("%w: %q", ErrInvalidLayout, *patch.Layout)
	}
	for field, color := range map[string]*string{
		configKeyPrimaryColor:    patch.PrimaryColor,
		configKeyBackgroundColor: patch.BackgroundColor,
		configKeyTextColor:       patch.TextColor,
	} {
		if color != nil && !hexColorPattern.MatchString(strings.TrimSpace(*color)) {
			return fmt.Errorf("%w: %s %q", ErrInvalidColor, field, *color)
		}
	}
	if patch.BorderRadius != nil && (*patch.BorderRadius < 0 || *patch.BorderRadius > MaxBorderRadius) {
		return fmt.Errorf("%w: %d", ErrInvalidBorderRadius, *patch.BorderRadius)
	}
	if patch.MaxTestimonials != nil && (*patch.MaxTestimonials < 1 || *patch.MaxTestimonials > MaxTestimonialsLimit) {
		return fmt.Errorf("%w: %d", ErrInvalidMaxTestimonials, *patch.MaxTestimonials)
	}
	return nil
}

// Validate checks a complete configuration.
func (config Config) Validate() error {
	return Patch{
		Theme:           &config.Theme,
		Layout:          &config.Layout,
		PrimaryColor:    &config.PrimaryColor,
		BackgroundColor: &config.BackgroundColor,
		TextColor:       &config.TextColor,
		BorderRadius:    &config.BorderRadius,
		MaxTestimonials: &config.MaxTestimonials,
	}.Validate()
}

// Apply returns the configuration with the patch merged in.
func (config Config) Apply(patch Patch) (Config, error) {
	if validationErr := patch.Validate(); validationErr != nil {
		return config, validationErr
	}
	return config.merge(patch), nil
}

func (config Config) merge(patch Patch) Config {
	merged := config
	if patch.Theme != nil {
		merged.Theme = *patch.Theme
	}
	if patch.Layout != nil {
		merged.Layout = *patch.Layout
	}
	if patch.ShowRating != nil {
		merged.ShowRating = *patch.ShowRating
	}
	if patch.ShowDate != nil {
		merged.ShowDate = *patch.ShowDate
	}
	if patch.PrimaryColor != nil {
		merged.PrimaryColor = normalizeColor(*patch.PrimaryColor)
	}
	if patch.BackgroundColor != nil {
		merged.BackgroundColor = normalizeColor(*patch.BackgroundColor)
	}
	if patch.TextColor != nil {
		merged.TextColor = normalizeColor(*patch.TextColor)
	}
	if patch.BorderRadius != nil {
		merged.BorderRadius = *patch.BorderRadius
	}
	if patch.MaxTestimonials != nil {
		merged.MaxTestimonials = *patch.MaxTestimonials
	}
	return merged
}

// Document serializes the configuration for storage.
func (config Config) Document() ([]byte, error) {
	return json.Marshal(config)
}

// InnerRadius is the corner radius of cards nested inside the widget container.
func (config Config) InnerRadius() int {
	return max(config.BorderRadius-4, 4)
}

// DecodeStoredConfig reads a stored configuration document field by field.
// Absent, null, and invalid fields fall back to defaults; invalid ones are reported as issues.
func DecodeStoredConfig(document []byte) (Config, []ConfigIssue) {
	config := DefaultConfig()
	if len(bytes.TrimSpace(document)) == 0 {
		return config, nil
	}

	var fields map[string]any
	if decodeErr := json.Unmarshal(document, &fields); decodeErr != nil {
		return config, []ConfigIssue{{Field: configKeyDocument, Reason: decodeErr.Error()}}
	}

	var patch Patch
	var issues []ConfigIssue
	report := func(field string, reason string) {
		issues = append(issues, ConfigIssue{Field: field, Reason: reason})
	}

	if value, present := fields[configKeyTheme]; present && value != nil {
		text, isText := value.(string)
		theme := Theme(strings.TrimSpace(text))
		switch {
		case !isText:
			report(configKeyTheme, issueReasonWrongType)
		case !theme.valid():
			report(configKeyTheme, issueReasonUnknownValue)
		default:
			patch.Theme = &theme
		}
	}

	if value, present := fields[configKeyLayout]; present && value != nil {
		text, isText := value.(string)
		layout := Layout(strings.TrimSpace(text))
		switch {
		case !isText:
			report(configKeyLayout, issueReasonWrongType)
		case !layout.valid():
			report(configKeyLayout, issueReasonUnknownValue)
		default:
			patch.Layout = &layout
		}
	}

	patch.ShowRating = decodeBool(fields, configKeyShowRating, report)
	patch.ShowDate = decodeBool(fields, configKeyShowDate, report)
	patch.PrimaryColor = decodeColor(fields, configKeyPrimaryColor, report)
	patch.BackgroundColor = decodeColor(fields, configKeyBackgroundColor, report)
	patch.TextColor = decodeColor(fields, configKeyTextColor, report)
	patch.BorderRadius = decodeBoundedInt(fields, configKeyBorderRadius, 0, MaxBorderRadius, report)
	patch.MaxTestimonials = decodeBoundedInt(fields, configKeyMaxTestimonials, 1, MaxTestimonialsLimit, report)

	return config.merge(patch), issues
}

func decodeBool(fields map[string]any, key string, report func(string, string)) *bool {
	value, present := fields[key]
	if !present || value == nil {
		return nil
	}
	flag, isBool := value.(bool)
	if !isBool {
		report(key, issueReasonWrongType)
		return nil
	}
	return &flag
}

func decodeColor(fields map[string]any, key string, report func(string, string)) *string {
	value, present := fields[key]
	if !present || value == nil {
		return nil
	}
	text, isText := value.(string)
	if !isText {
		report(key, issueReasonWrongType)
		return nil
	}
	if !hexColorPattern.MatchString(strings.TrimSpace(text)) {
		report(key, issueReasonUnknownValue)
		return nil
	}
	return &text
}

func decodeBoundedInt(fields map[string]any, key string, minimum int, maximum int, report func(string, string)) *int {
	value, present := fields[key]
	if !present || value == nil {
		return nil
	}
	number, isNumber := value.(float64)
	if !isNumber || number != math.Trunc(number) {
		report(key, issueReasonWrongType)
		return nil
	}
	if number < float64(minimum) || number > float64(maximum) {
		report(key, issueReasonOutOfRange)
		return nil
	}
	integer := int(number)
	return &integer
}

func normalizeColor(color string) string {
	return strings.ToLower(strings.TrimSpace(color))
}
