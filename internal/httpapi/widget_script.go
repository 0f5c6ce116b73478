package httpapi

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"github.com/MarkoPoloResearchLab/testimonialwall/internal/widget"
)

// DefaultWidgetFetchTimeout bounds the single fetch the embedded script performs.
const DefaultWidgetFetchTimeout = 5 * time.Second

//go:embed assets/widget.js
var widgetJavaScriptSource string

var widgetJavaScriptTemplate = template.Must(template.New("widget.js").Parse(widgetJavaScriptSource))

type widgetScriptView struct {
	FallbackOriginJSON       string
	FetchTimeoutMilliseconds int64
	DefaultConfigJSON        string
}

// RenderWidgetScript produces the standalone renderer. The fallback origin is used only when
// the script cannot derive its API origin from its own src attribute.
func RenderWidgetScript(fallbackOrigin string, fetchTimeout time.Duration) ([]byte, error) {
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultWidgetFetchTimeout
	}
	encodedOrigin, originErr := json.Marshal(fallbackOrigin)
	if originErr != nil {
		return nil, fmt.Errorf("encode widget origin: %w", originErr)
	}
	encodedDefaults, defaultsErr := json.Marshal(widget.DefaultConfig())
	if defaultsErr != nil {
		return nil, fmt.Errorf("encode widget defaults: %w", defaultsErr)
	}

	var buffer bytes.Buffer
	executeErr := widgetJavaScriptTemplate.Execute(&buffer, widgetScriptView{
		FallbackOriginJSON:       string(encodedOrigin),
		FetchTimeoutMilliseconds: fetchTimeout.Milliseconds(),
		DefaultConfigJSON:        string(encodedDefaults),
	})
	if executeErr != nil {
		return nil, fmt.Errorf("render widget script: %w", executeErr)
	}
	return buffer.Bytes(), nil
}
