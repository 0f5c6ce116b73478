package widget

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"text/template"

	"github.com/MarkoPoloResearchLab/testimonialwall/internal/storage"
)

const embedCodeTemplateName = "embed_code.tmpl"

var (
	ErrInvalidOrigin   = errors.New("invalid_origin")
	ErrInvalidWidgetID = errors.New("invalid_widget_id")
)

//go:embed templates/embed_code.tmpl
var embedCodeTemplateFS embed.FS

var embedCodeTemplate = template.Must(template.ParseFS(embedCodeTemplateFS, "templates/"+embedCodeTemplateName))

var originHostPattern = regexp.MustCompile(`^(?:[a-z0-9](?:[a-z0-9.-]*[a-z0-9])?|\[[0-9a-f:.]+\])(?::[0-9]{1,5})?$`)

// EmbedInput carries everything the embed snippet depends on.
type EmbedInput struct {
	WidgetID string
	Config   Config
	Origin   string
}

type embedCodeView struct {
	Origin       string
	WidgetID     string
	Theme        Theme
	Layout       Layout
	BorderRadius int
}

// GenerateEmbedCode renders the HTML snippet a site owner pastes into a third-party page.
// The output depends only on its input.
func GenerateEmbedCode(input EmbedInput) (string, error) {
	origin, originErr := NormalizeOrigin(input.Origin)
	if originErr != nil {
		return "", originErr
	}
	widgetID := strings.TrimSpace(input.WidgetID)
	if !storage.IsWidgetID(widgetID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidWidgetID, input.WidgetID)
	}
	if validationErr := input.Config.Validate(); validationErr != nil {
		return "", validationErr
	}

	var buffer bytes.Buffer
	executeErr := embedCodeTemplate.ExecuteTemplate(&buffer, embedCodeTemplateName, embedCodeView{
		Origin:       origin,
		WidgetID:     widgetID,
		Theme:        input.Config.Theme,
		Layout:       input.Config.Layout,
		BorderRadius: input.Config.BorderRadius,
	})
	if executeErr != nil {
		return "", executeErr
	}
	return buffer.String(), nil
}

// NormalizeOrigin reduces an absolute http(s) URL to scheme://host[:port].
func NormalizeOrigin(rawOrigin string) (string, error) {
	trimmed := strings.TrimSpace(rawOrigin)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidOrigin)
	}
	parsed, parseErr := url.Parse(trimmed)
	if parseErr != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidOrigin, parseErr)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidOrigin, parsed.Scheme)
	}
	if parsed.User != nil {
		return "", fmt.Errorf("%w: credentials not allowed", ErrInvalidOrigin)
	}
	host := strings.ToLower(parsed.Host)
	if !originHostPattern.MatchString(host) {
		return "", fmt.Errorf("%w: host %q", ErrInvalidOrigin, parsed.Host)
	}
	return scheme + "://" + host, nil
}
