package widget

import (
	"embed"
	"fmt"
	"html/template"
	"io"
)

const (
	FrameStateRendered = "rendered"
	FrameStateEmpty    = "empty"
	FrameStateError    = "error"

	frameTemplateName = "widget_frame.tmpl"
	frameDateLayout   = "Jan 2, 2006"
	frameStarCount    = 5

	EmptyStateMessage = "No testimonials available"

	lightCardBackground = "rgba(0,0,0,0.05)"
	lightCardBorder     = "rgba(0,0,0,0.1)"
	lightNeutral        = "#e5e7eb"
	darkCardBackground  = "rgba(255,255,255,0.1)"
	darkCardBorder      = "rgba(255,255,255,0.2)"
	darkNeutral         = "rgba(255,255,255,0.3)"

	errorBackground = "#fee2e2"
	errorBorder     = "#fecaca"
	errorText       = "#991b1b"
)

//go:embed templates/widget_frame.tmpl
var frameTemplateFS embed.FS

var frameTemplate = template.Must(template.ParseFS(frameTemplateFS, "templates/"+frameTemplateName))

type frameStar struct {
	Style template.CSS
}

type frameCard struct {
	CustomerName string
	Message      string
	Category     string
	Date         string
	Stars        []frameStar
}

type frameView struct {
	WidgetID       string
	State          string
	Layout         Layout
	ContainerStyle template.CSS
	ItemsStyle     template.CSS
	CardStyle      template.CSS
	MutedStyle     template.CSS
	ErrorStyle     template.CSS
	DotsStyle      template.CSS
	Cards          []frameCard
	Dots           []template.CSS
	ShowRating     bool
	ShowDate       bool
	EmptyMessage   string
	ErrorMessage   string
}

// RenderFrame writes the standalone HTML page used by the iframe embed.
func RenderFrame(writer io.Writer, widgetID string, payload Payload) error {
	config := payload.Config
	if validationErr := config.Validate(); validationErr != nil {
		config = DefaultConfig()
	}
	view := baseFrameView(widgetID, config)
	view.ShowRating = config.ShowRating
	view.ShowDate = config.ShowDate
	if len(payload.Testimonials) == 0 {
		view.State = FrameStateEmpty
		return frameTemplate.ExecuteTemplate(writer, frameTemplateName, view)
	}

	view.State = FrameStateRendered
	visible := payload.Testimonials
	if config.Layout == LayoutCarousel {
		visible = visible[:1]
		if len(payload.Testimonials) > 1 {
			for index := range payload.Testimonials {
				view.Dots = append(view.Dots, dotStyle(config, index == 0))
			}
		}
	}
	for _, testimonial := range visible {
		view.Cards = append(view.Cards, frameCard{
			CustomerName: testimonial.CustomerName,
			Message:      testimonial.Message,
			Category:     testimonial.Category,
			Date:         testimonial.CreatedAt.Format(frameDateLayout),
			Stars:        starStyles(config, testimonial.Rating),
		})
	}
	return frameTemplate.ExecuteTemplate(writer, frameTemplateName, view)
}

// RenderFrameError writes the iframe page in its error state.
func RenderFrameError(writer io.Writer, widgetID string, message string) error {
	view := baseFrameView(widgetID, DefaultConfig())
	view.State = FrameStateError
	view.ErrorMessage = message
	return frameTemplate.ExecuteTemplate(writer, frameTemplateName, view)
}

func baseFrameView(widgetID string, config Config) frameView {
	cardBackground, cardBorder := lightCardBackground, lightCardBorder
	if config.Theme == ThemeDark {
		cardBackground, cardBorder = darkCardBackground, darkCardBorder
	}
	return frameView{
		WidgetID: widgetID,
		Layout:   config.Layout,
		ContainerStyle: template.CSS(fmt.Sprintf(
			"background-color: %s; color: %s; border-radius: %dpx; padding: 16px; font-family: system-ui, -apple-system, sans-serif;",
			config.BackgroundColor, config.TextColor, config.BorderRadius)),
		ItemsStyle: itemsStyle(config.Layout),
		CardStyle: template.CSS(fmt.Sprintf(
			"background-color: %s; border: 1px solid %s; border-radius: %dpx; padding: 16px;",
			cardBackground, cardBorder, config.InnerRadius())),
		MutedStyle: template.CSS(fmt.Sprintf(
			"background-color: %s; border: 1px solid %s; border-radius: %dpx; opacity: 0.7; text-align: center; padding: 24px 0;",
			cardBackground, cardBorder, config.InnerRadius())),
		ErrorStyle:   template.CSS(fmt.Sprintf("background-color: %s; border: 1px solid %s; color: %s; border-radius: %dpx; padding: 16px;", errorBackground, errorBorder, errorText, config.InnerRadius())),
		DotsStyle:    template.CSS("display: flex; justify-content: center; gap: 8px; margin-top: 12px;"),
		EmptyMessage: EmptyStateMessage,
	}
}

func itemsStyle(layout Layout) template.CSS {
	switch layout {
	case LayoutGrid:
		return template.CSS("display: grid; grid-template-columns: repeat(auto-fit, minmax(250px, 1fr)); gap: 16px;")
	case LayoutList:
		return template.CSS("display: flex; flex-direction: column; gap: 12px;")
	default:
		return template.CSS("display: block;")
	}
}

func neutralColor(config Config) string {
	if config.Theme == ThemeDark {
		return darkNeutral
	}
	return lightNeutral
}

func dotStyle(config Config, active bool) template.CSS {
	color := neutralColor(config)
	if active {
		color = config.PrimaryColor
	}
	return template.CSS(fmt.Sprintf("display: inline-block; width: 8px; height: 8px; border-radius: 50%%; background-color: %s;", color))
}

func starStyles(config Config, rating int) []frameStar {
	stars := make([]frameStar, 0, frameStarCount)
	for position := 1; position <= frameStarCount; position++ {
		color := neutralColor(config)
		if position <= rating {
			color = config.PrimaryColor
		}
		stars = append(stars, frameStar{Style: template.CSS("color: " + color + ";")})
	}
	return stars
}
