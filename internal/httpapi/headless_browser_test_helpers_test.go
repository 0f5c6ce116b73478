package httpapi_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
)

const (
	integrationTestTimeout               = 20 * time.Second
	headlessBrowserSkipReason            = "chromedp headless browser not available"
	headlessBrowserLocateErrorMessage    = "locate headless browser executable"
	headlessBrowserEnvironmentChromedp   = "CHROMEDP_BROWSER"
	headlessBrowserEnvironmentChromePath = "CHROME_PATH"
)

var headlessBrowserExecutableNames = []string{
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
	"chrome",
	"headless-shell",
}

var errHeadlessBrowserNotFound = errors.New("headless browser executable not found")

func locateHeadlessBrowserExecutable() (string, error) {
	environmentVariableNames := []string{
		headlessBrowserEnvironmentChromedp,
		headlessBrowserEnvironmentChromePath,
	}

	for _, environmentVariableName := range environmentVariableNames {
		environmentValue := strings.TrimSpace(os.Getenv(environmentVariableName))
		if environmentValue == "" {
			continue
		}
		return environmentValue, nil
	}

	for _, executableName := range headlessBrowserExecutableNames {
		executablePath, lookupErr := exec.LookPath(executableName)
		if lookupErr == nil {
			return executablePath, nil
		}
	}

	return "", fmt.Errorf("%s: %w", headlessBrowserLocateErrorMessage, errHeadlessBrowserNotFound)
}

func buildHeadlessBrowserContext(testingT *testing.T) context.Context {
	testingT.Helper()

	browserExecutablePath, locateBrowserErr := locateHeadlessBrowserExecutable()
	if locateBrowserErr != nil {
		testingT.Skipf("%s: %v", headlessBrowserSkipReason, locateBrowserErr)
	}

	headlessAllocatorOptions := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(browserExecutablePath),
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	allocatorContext, allocatorCancel := chromedp.NewExecAllocator(context.Background(), headlessAllocatorOptions...)
	testingT.Cleanup(allocatorCancel)

	browserContext, browserCancel := chromedp.NewContext(allocatorContext)
	testingT.Cleanup(browserCancel)

	contextWithTimeout, timeoutCancel := context.WithTimeout(browserContext, integrationTestTimeout)
	testingT.Cleanup(timeoutCancel)

	return contextWithTimeout
}
