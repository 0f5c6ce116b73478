package httpapi_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/testimonialwall/internal/model"
	"github.com/MarkoPoloResearchLab/testimonialwall/internal/storage"
	"github.com/MarkoPoloResearchLab/testimonialwall/internal/testutil"
	"github.com/MarkoPoloResearchLab/testimonialwall/internal/widget"
)

type widgetPayloadResponse struct {
	Testimonials []map[string]any `json:"testimonials"`
	Config       widget.Config    `json:"config"`
}

func TestWidgetDataServesApprovedTestimonialsToAnyOrigin(testingT *testing.T) {
	harness := buildAPIHarness(testingT)
	widgetID := harness.seedWidget(testingT, testOwnerEmail, `{"theme":"dark","maxTestimonials":2}`)

	base := time.Date(2024, time.May, 10, 9, 0, 0, 0, time.UTC)
	oldest := testutil.SeedTestimonial(testingT, harness.database, testOwnerEmail, model.TestimonialStatusApproved, 5, base)
	testutil.SeedTestimonial(testingT, harness.database, testOwnerEmail, model.TestimonialStatusPending, 4, base.Add(time.Hour))
	middle := testutil.SeedTestimonial(testingT, harness.database, testOwnerEmail, model.TestimonialStatusApproved, 4, base.Add(2*time.Hour))
	newest := testutil.SeedTestimonial(testingT, harness.database, testOwnerEmail, model.TestimonialStatusApproved, 3, base.Add(3*time.Hour))
	testutil.SeedTestimonial(testingT, harness.database, testOtherOwnerEmail, model.TestimonialStatusApproved, 5, base.Add(4*time.Hour))
	require.NoError(testingT, harness.database.Model(&model.Testimonial{}).
		Where("id = ?", newest.ID).
		Update("customer_email", "customer@example.com").Error)

	recorder := performJSONRequest(testingT, harness.router, http.MethodGet, "/api/widget/"+widgetID, nil, nil, map[string]string{"Origin": "https://customer-site.example"})
	require.Equal(testingT, http.StatusOK, recorder.Code)
	require.Equal(testingT, "*", recorder.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(testingT, http.MethodGet, recorder.Header().Get("Access-Control-Allow-Methods"))
	require.NotContains(testingT, recorder.Body.String(), "customer@example.com")

	var payload widgetPayloadResponse
	decodeJSONResponse(testingT, recorder, &payload)
	require.Len(testingT, payload.Testimonials, 2)
	require.Equal(testingT, newest.ID, payload.Testimonials[0]["id"])
	require.Equal(testingT, middle.ID, payload.Testimonials[1]["id"])
	for _, testimonial := range payload.Testimonials {
		require.NotEqual(testingT, oldest.ID, testimonial["id"])
		require.Equal(testingT, model.TestimonialStatusApproved, testimonial["status"])
	}
	require.Equal(testingT, widget.ThemeDark, payload.Config.Theme)
	require.Equal(testingT, widget.DefaultLayout, payload.Config.Layout)
	require.Equal(testingT, 2, payload.Config.MaxTestimonials)
}

func TestWidgetDataWithoutOriginHeaderStillAllowsAnyOrigin(testingT *testing.T) {
	harness := buildAPIHarness(testingT)
	widgetID := harness.seedWidget(testingT, testOwnerEmail, `{}`)

	recorder := performJSONRequest(testingT, harness.router, http.MethodGet, "/api/widget/"+widgetID, nil, nil, nil)
	require.Equal(testingT, http.StatusOK, recorder.Code)
	require.Equal(testingT, "*", recorder.Header().Get("Access-Control-Allow-Origin"))

	var payload widgetPayloadResponse
	decodeJSONResponse(testingT, recorder, &payload)
	require.Empty(testingT, payload.Testimonials)
	require.Equal(testingT, widget.DefaultConfig(), payload.Config)
}

func TestWidgetDataRejectsUnknownIdentifiers(testingT *testing.T) {
	testCases := []struct {
		name     string
		widgetID string
	}{
		{name: "well formed but unknown", widgetID: storage.NewWidgetID()},
		{name: "malformed", widgetID: "not-a-widget"},
	}

	harness := buildAPIHarness(testingT)
	for _, testCase := range testCases {
		testCase := testCase
		testingT.Run(testCase.name, func(testingT *testing.T) {
			recorder := performJSONRequest(testingT, harness.router, http.MethodGet, "/api/widget/"+testCase.widgetID, nil, nil, nil)
			require.Equal(testingT, http.StatusNotFound, recorder.Code)
			require.JSONEq(testingT, `{"error":"unknown_widget"}`, recorder.Body.String())
		})
	}
}

func TestWidgetDataReportsUnavailableStorage(testingT *testing.T) {
	harness := buildAPIHarness(testingT)
	widgetID := harness.seedWidget(testingT, testOwnerEmail, `{}`)

	sqlDatabase, sqlErr := harness.database.DB()
	require.NoError(testingT, sqlErr)
	require.NoError(testingT, sqlDatabase.Close())

	recorder := performJSONRequest(testingT, harness.router, http.MethodGet, "/api/widget/"+widgetID, nil, nil, nil)
	require.Equal(testingT, http.StatusServiceUnavailable, recorder.Code)
	require.NotEmpty(testingT, recorder.Header().Get("Retry-After"))
	require.JSONEq(testingT, `{"error":"widget_unavailable"}`, recorder.Body.String())
}

func TestWidgetDataIsStableBetweenReadsAndRefreshedAfterModeration(testingT *testing.T) {
	harness := buildAPIHarness(testingT)
	widgetID := harness.seedWidget(testingT, testOwnerEmail, `{}`)
	pending := testutil.SeedTestimonial(testingT, harness.database, testOwnerEmail, model.TestimonialStatusPending, 5, time.Now().Add(-time.Hour))
	testutil.SeedTestimonial(testingT, harness.database, testOwnerEmail, model.TestimonialStatusApproved, 4, time.Now().Add(-2*time.Hour))

	first := performJSONRequest(testingT, harness.router, http.MethodGet, "/api/widget/"+widgetID, nil, nil, nil)
	second := performJSONRequest(testingT, harness.router, http.MethodGet, "/api/widget/"+widgetID, nil, nil, nil)
	require.Equal(testingT, http.StatusOK, first.Code)
	require.Equal(testingT, first.Body.String(), second.Body.String())

	cookie := createAuthenticatedSessionCookie(testingT, testOwnerEmail, testOwnerName)
	moderated := performJSONRequest(testingT, harness.router, http.MethodPatch, "/api/testimonials/"+pending.ID, map[string]string{"status": model.TestimonialStatusApproved}, cookie, nil)
	require.Equal(testingT, http.StatusOK, moderated.Code)

	third := performJSONRequest(testingT, harness.router, http.MethodGet, "/api/widget/"+widgetID, nil, nil, nil)
	var payload widgetPayloadResponse
	decodeJSONResponse(testingT, third, &payload)
	require.Len(testingT, payload.Testimonials, 2)
	require.Equal(testingT, pending.ID, payload.Testimonials[0]["id"])
}

func TestWidgetScriptInjectsFallbackOriginAndTimeout(testingT *testing.T) {
	harness := buildAPIHarness(testingT)

	recorder := performJSONRequest(testingT, harness.router, http.MethodGet, "/widget.js", nil, nil, nil)
	require.Equal(testingT, http.StatusOK, recorder.Code)
	require.True(testingT, strings.HasPrefix(recorder.Header().Get("Content-Type"), "application/javascript"))
	require.Equal(testingT, "*", recorder.Header().Get("Access-Control-Allow-Origin"))

	body := recorder.Body.String()
	require.Contains(testingT, body, `var FALLBACK_ORIGIN = "https://walls.example.com";`)
	require.Contains(testingT, body, "var FETCH_TIMEOUT_MS = 2000;")
	require.Contains(testingT, body, `"primaryColor":"#3b82f6"`)
	require.NotContains(testingT, body, "{{")
}

func TestWidgetFrameRendersEveryState(testingT *testing.T) {
	harness := buildAPIHarness(testingT)
	emptyWidgetID := harness.seedWidget(testingT, testOtherOwnerEmail, `{}`)
	renderedWidgetID := harness.seedWidget(testingT, testOwnerEmail, `{"layout":"grid"}`)
	testutil.SeedTestimonial(testingT, harness.database, testOwnerEmail, model.TestimonialStatusApproved, 5, time.Now())

	testCases := []struct {
		name           string
		widgetID       string
		expectedStatus int
		expectedState  string
		expectedText   string
	}{
		{name: "rendered", widgetID: renderedWidgetID, expectedStatus: http.StatusOK, expectedState: widget.FrameStateRendered, expectedText: "testimonial-widget--grid"},
		{name: "empty", widgetID: emptyWidgetID, expectedStatus: http.StatusOK, expectedState: widget.FrameStateEmpty, expectedText: widget.EmptyStateMessage},
		{name: "unknown", widgetID: "not-a-widget", expectedStatus: http.StatusNotFound, expectedState: widget.FrameStateError, expectedText: "Widget not found"},
	}

	for _, testCase := range testCases {
		testCase := testCase
		testingT.Run(testCase.name, func(testingT *testing.T) {
			recorder := performJSONRequest(testingT, harness.router, http.MethodGet, "/widget/"+testCase.widgetID, nil, nil, nil)
			require.Equal(testingT, testCase.expectedStatus, recorder.Code)
			require.True(testingT, strings.HasPrefix(recorder.Header().Get("Content-Type"), "text/html"))
			require.Contains(testingT, recorder.Body.String(), `data-widget-state="`+testCase.expectedState+`"`)
			require.Contains(testingT, recorder.Body.String(), testCase.expectedText)
		})
	}
}
