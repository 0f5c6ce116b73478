package auth

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	headerForwarded        = "Forwarded"
	headerXForwardedProto  = "X-Forwarded-Proto"
	headerXForwardedScheme = "X-Forwarded-Scheme"
	headerXForwardedHost   = "X-Forwarded-Host"
	headerXForwardedPort   = "X-Forwarded-Port"
	forwardedProtoPrefix   = "proto="
	forwardedHostPrefix    = "host="
	headerValueSeparator   = ","
	forwardedPairSeparator = ";"
	urlSchemeHTTP          = "http"
	urlSchemeHTTPS         = "https"
)

var ErrUnresolvableOrigin = errors.New("auth: unresolvable request origin")

// OriginResolver derives the origin a browser used to reach the server, honoring proxy headers.
// The configured public base URL fills in whatever the request does not carry.
type OriginResolver struct {
	fallback *url.URL
}

func NewOriginResolver(publicBaseURL string) (*OriginResolver, error) {
	parsed, parseErr := url.Parse(strings.TrimSpace(publicBaseURL))
	if parseErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnresolvableOrigin, parseErr)
	}
	return &OriginResolver{fallback: parsed}, nil
}

// FallbackOrigin returns scheme://host of the configured public base URL.
func (resolver *OriginResolver) FallbackOrigin() string {
	if resolver == nil || resolver.fallback == nil || resolver.fallback.Host == "" {
		return ""
	}
	scheme := strings.ToLower(resolver.fallback.Scheme)
	if scheme == "" {
		scheme = urlSchemeHTTPS
	}
	return scheme + "://" + strings.ToLower(resolver.fallback.Host)
}

// Origin returns scheme://host[:port] for the request.
func (resolver *OriginResolver) Origin(request *http.Request) (string, error) {
	scheme := resolver.resolveScheme(request)
	if scheme != urlSchemeHTTP && scheme != urlSchemeHTTPS {
		return "", fmt.Errorf("%w: scheme %q", ErrUnresolvableOrigin, scheme)
	}
	host := resolver.resolveHost(request)
	if host == "" {
		return "", fmt.Errorf("%w: empty host", ErrUnresolvableOrigin)
	}
	if port := firstHeaderValue(request.Header.Get(headerXForwardedPort)); port != "" && !strings.Contains(host, ":") {
		host = host + ":" + port
	}
	return scheme + "://" + strings.ToLower(host), nil
}

// BaseURL returns the public base URL rebased onto the request origin, keeping the configured path.
func (resolver *OriginResolver) BaseURL(request *http.Request) (string, error) {
	origin, originErr := resolver.Origin(request)
	if originErr != nil {
		return "", originErr
	}
	parsedOrigin, parseErr := url.Parse(origin)
	if parseErr != nil {
		return "", fmt.Errorf("%w: %v", ErrUnresolvableOrigin, parseErr)
	}
	baseCopy := url.URL{}
	if resolver.fallback != nil {
		baseCopy = *resolver.fallback
	}
	baseCopy.Scheme = parsedOrigin.Scheme
	baseCopy.Host = parsedOrigin.Host
	return baseCopy.String(), nil
}

func (resolver *OriginResolver) resolveScheme(request *http.Request) string {
	if forwardedProto := extractForwardedDirective(request.Header.Get(headerForwarded), forwardedProtoPrefix); forwardedProto != "" {
		return strings.ToLower(forwardedProto)
	}
	if protoHeader := firstHeaderValue(request.Header.Get(headerXForwardedProto)); protoHeader != "" {
		return strings.ToLower(protoHeader)
	}
	if schemeHeader := firstHeaderValue(request.Header.Get(headerXForwardedScheme)); schemeHeader != "" {
		return strings.ToLower(schemeHeader)
	}
	if request.TLS != nil {
		return urlSchemeHTTPS
	}
	if request.URL != nil && request.URL.Scheme != "" {
		return strings.ToLower(request.URL.Scheme)
	}
	if resolver.fallback != nil && resolver.fallback.Scheme != "" {
		return strings.ToLower(resolver.fallback.Scheme)
	}
	return urlSchemeHTTPS
}

func (resolver *OriginResolver) resolveHost(request *http.Request) string {
	if forwardedHost := extractForwardedDirective(request.Header.Get(headerForwarded), forwardedHostPrefix); forwardedHost != "" {
		return forwardedHost
	}
	if hostHeader := firstHeaderValue(request.Header.Get(headerXForwardedHost)); hostHeader != "" {
		return hostHeader
	}
	if request.Host != "" {
		return request.Host
	}
	if resolver.fallback != nil {
		return resolver.fallback.Host
	}
	return ""
}

func firstHeaderValue(rawValue string) string {
	for _, segment := range strings.Split(rawValue, headerValueSeparator) {
		if trimmedSegment := strings.TrimSpace(segment); trimmedSegment != "" {
			return trimmedSegment
		}
	}
	return ""
}

// extractForwardedDirective reads one directive of an RFC 7239 Forwarded header.
func extractForwardedDirective(headerValue string, prefix string) string {
	for _, element := range strings.Split(headerValue, headerValueSeparator) {
		for _, pair := range strings.Split(element, forwardedPairSeparator) {
			trimmedPair := strings.TrimSpace(pair)
			if !strings.HasPrefix(strings.ToLower(trimmedPair), prefix) {
				continue
			}
			value := strings.Trim(strings.TrimSpace(trimmedPair[len(prefix):]), "\"")
			if value != "" {
				return value
			}
		}
	}
	return ""
}
