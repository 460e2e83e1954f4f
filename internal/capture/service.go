package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/markusmobius/go-trafilatura"
	cache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

const (
	defaultUserAgent       = "Engram-Capture/1.0 (+https://engram.example.com/bot)"
	defaultMaxBodySize     = 10 * 1024 * 1024 // 10MB
	defaultMaxConcurrent   = 10
	defaultGlobalRate      = 10.0 // requests per second
	defaultPerOwnerRate    = 5.0
	defaultMaxContentRunes = 50000

	truncationMarker = "\n\n[content truncated]"
)

// Sentinel errors callers classify with errors.Is
var (
	ErrInvalidURL         = errors.New("invalid capture URL")
	ErrRobotsDisallowed   = errors.New("blocked by robots.txt")
	ErrUnsupportedContent = errors.New("unsupported content type")
	ErrNoContent          = errors.New("no content extracted from page")
)

// Config tunes the capture service; zero values take defaults
type Config struct {
	UserAgent       string
	MaxBodySize     int64
	MaxConcurrent   int
	GlobalRate      float64 // Requests per second across all owners
	PerOwnerRate    float64
	MaxContentRunes int
}

// Page is the extracted result of a URL capture
type Page struct {
	URL       string
	Title     string
	Author    string
	Published time.Time
	Content   string
	Truncated bool
}

// Service fetches web pages politely (robots.txt, crawl delays, rate tiers)
// and extracts their main text content
type Service struct {
	client       *Client
	rateLimiter  *RateLimiter
	robots       *RobotsChecker
	contentCache *cache.Cache
	resources    *ResourceManager
	logger       *logrus.Logger
	maxRunes     int
}

// NewService creates a capture service
func NewService(cfg Config) *Service {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.GlobalRate <= 0 {
		cfg.GlobalRate = defaultGlobalRate
	}
	if cfg.PerOwnerRate <= 0 {
		cfg.PerOwnerRate = defaultPerOwnerRate
	}
	if cfg.MaxContentRunes <= 0 {
		cfg.MaxContentRunes = defaultMaxContentRunes
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	s := &Service{
		client:       NewClient(cfg.UserAgent),
		rateLimiter:  NewRateLimiter(cfg.GlobalRate, cfg.PerOwnerRate),
		robots:       NewRobotsChecker(cfg.UserAgent),
		contentCache: cache.New(1*time.Hour, 10*time.Minute),
		resources:    NewResourceManager(cfg.MaxConcurrent, cfg.MaxBodySize),
		logger:       logger,
		maxRunes:     cfg.MaxContentRunes,
	}

	logger.WithFields(logrus.Fields{
		"max_concurrent": cfg.MaxConcurrent,
		"global_rate":    cfg.GlobalRate,
	}).Info("Capture service initialized")

	return s
}

// FetchPage fetches a web page and returns its extracted main content
func (s *Service) FetchPage(ctx context.Context, ownerID, rawURL string) (*Page, error) {
	startTime := time.Now()

	if err := s.validateURL(rawURL); err != nil {
		return nil, err
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	domain := parsedURL.Host

	if cached, found := s.contentCache.Get(rawURL); found {
		s.logger.WithFields(logrus.Fields{
			"url":         rawURL,
			"owner":       ownerID,
			"duration_ms": time.Since(startTime).Milliseconds(),
		}).Info("Capture cache hit")
		return cached.(*Page), nil
	}

	allowed, crawlDelay, err := s.robots.CanFetch(ctx, rawURL)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"url":   rawURL,
			"error": err.Error(),
		}).Warn("robots.txt check failed, using default delay")
		crawlDelay = 1 * time.Second
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s", ErrRobotsDisallowed, rawURL)
	}

	if err := s.rateLimiter.Wait(ctx, ownerID, domain, crawlDelay); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	if err := s.resources.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("capture capacity reached: %w", err)
	}
	defer s.resources.Release()

	resp, err := s.client.Get(ctx, rawURL)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"url":   rawURL,
			"owner": ownerID,
			"error": err.Error(),
		}).Error("Failed to fetch URL")
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !isSupportedContentType(contentType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContent, contentType)
	}

	body, err := s.resources.ReadBody(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	result, err := trafilatura.Extract(bytes.NewReader(body), trafilatura.Options{
		OriginalURL: parsedURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract content: %w", err)
	}
	if result == nil || result.ContentText == "" {
		return nil, ErrNoContent
	}

	page := &Page{
		URL:       rawURL,
		Title:     result.Metadata.Title,
		Author:    result.Metadata.Author,
		Published: result.Metadata.Date,
		Content:   strings.TrimSpace(result.ContentText),
	}
	s.truncate(page)

	s.contentCache.Set(rawURL, page, cache.DefaultExpiration)

	s.logger.WithFields(logrus.Fields{
		"url":         rawURL,
		"owner":       ownerID,
		"duration_ms": time.Since(startTime).Milliseconds(),
		"chars":       len(page.Content),
		"truncated":   page.Truncated,
	}).Info("Page captured")

	return page, nil
}

// truncate trims page content to the configured rune budget, marker included
func (s *Service) truncate(page *Page) {
	if utf8.RuneCountInString(page.Content) <= s.maxRunes {
		return
	}
	runes := []rune(page.Content)
	keep := s.maxRunes - utf8.RuneCountInString(truncationMarker)
	page.Content = string(runes[:keep]) + truncationMarker
	page.Truncated = true
}

// validateURL rejects non-HTTP schemes and private address targets (SSRF
// protection)
func (s *Service) validateURL(rawURL string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%w: only HTTP/HTTPS URLs are supported, got %q", ErrInvalidURL, parsedURL.Scheme)
	}

	hostname := strings.ToLower(parsedURL.Hostname())

	if hostname == "" || hostname == "localhost" || hostname == "127.0.0.1" || hostname == "::1" || hostname == "0.0.0.0" {
		return fmt.Errorf("%w: local addresses are not allowed", ErrInvalidURL)
	}

	privateRanges := []string{
		"192.168.", "10.", "172.16.", "172.17.", "172.18.", "172.19.",
		"172.20.", "172.21.", "172.22.", "172.23.", "172.24.", "172.25.",
		"172.26.", "172.27.", "172.28.", "172.29.", "172.30.", "172.31.",
		"169.254.", // Link-local
		"fd",       // IPv6 private
	}
	for _, prefix := range privateRanges {
		if strings.HasPrefix(hostname, prefix) {
			return fmt.Errorf("%w: private addresses are not allowed", ErrInvalidURL)
		}
	}

	return nil
}

// isSupportedContentType reports whether a response can be text-extracted
func isSupportedContentType(contentType string) bool {
	contentType = strings.ToLower(contentType)
	for _, ct := range []string{"text/html", "text/plain", "application/xhtml+xml"} {
		if strings.Contains(contentType, ct) {
			return true
		}
	}
	return false
}
