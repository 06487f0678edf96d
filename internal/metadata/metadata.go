// Package metadata fetches page titles and descriptions for newly created
// bookmarks. Lookups run only when the user enabled them; failures degrade
// to the bare URL, never block reconciliation.
package metadata

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/marksync/marksync/internal/reconciler"
)

// maxBodyBytes caps how much of a page is read while looking for the head
// section. Titles and meta tags sit early in any sane document.
const maxBodyBytes = 512 * 1024

// DefaultTimeout bounds one lookup end to end.
const DefaultTimeout = 10 * time.Second

// Service fetches page metadata over HTTP. It implements
// reconciler.MetadataService.
type Service struct {
	client *http.Client
	logger *log.Logger
}

// Config holds service construction options.
type Config struct {
	// Client overrides the HTTP client; nil selects one with
	// DefaultTimeout.
	Client *http.Client

	// Logger defaults to stderr with a [metadata] prefix.
	Logger *log.Logger
}

// New returns a metadata service.
func New(cfg Config) *Service {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: DefaultTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[metadata] ", log.LstdFlags)
	}
	return &Service{client: cfg.Client, logger: cfg.Logger}
}

// Fetch retrieves the page at url and extracts its title and description.
func (s *Service) Fetch(ctx context.Context, url string) (reconciler.Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return reconciler.Metadata{}, fmt.Errorf("metadata request for %q: %w", url, err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := s.client.Do(req)
	if err != nil {
		return reconciler.Metadata{}, fmt.Errorf("metadata fetch for %q: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return reconciler.Metadata{}, fmt.Errorf("metadata fetch for %q: status %d", url, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return reconciler.Metadata{}, fmt.Errorf("metadata fetch for %q: content type %q", url, ct)
	}

	meta, err := parse(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return reconciler.Metadata{}, fmt.Errorf("metadata parse for %q: %w", url, err)
	}
	return meta, nil
}

// parse walks the HTML document for the title element and the description
// meta tag.
func parse(r io.Reader) (reconciler.Metadata, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return reconciler.Metadata{}, err
	}
	var meta reconciler.Metadata
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if meta.Title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					meta.Title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "meta":
				if meta.Description == "" && attr(n, "name") == "description" {
					meta.Description = strings.TrimSpace(attr(n, "content"))
				}
			case "body":
				// Neither lives in the body; stop early.
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return meta, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}
