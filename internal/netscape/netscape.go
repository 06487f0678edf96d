// Package netscape parses the Netscape bookmark file format, the HTML
// dialect every major browser exports. Only the structure marksync can
// represent survives parsing: folders, links and separators. Icons,
// add dates and other attributes are dropped.
package netscape

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/marksync/marksync/internal/tree"
)

// Item is one parsed entry. A folder has children and no URL; a
// separator has neither title nor URL.
type Item struct {
	Title    string
	URL      string
	Children []*Item
}

// Parse reads a Netscape bookmark file and returns its top-level items.
//
// The format nests DL lists under DT elements. Browsers emit notoriously
// malformed markup here (unclosed DT and DD tags), which the html
// package's error-tolerant parser absorbs.
func Parse(r io.Reader) ([]*Item, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse bookmark file: %w", err)
	}
	list := findList(doc)
	if list == nil {
		return nil, fmt.Errorf("parse bookmark file: no bookmark list found")
	}
	return parseList(list), nil
}

// findList locates the outermost DL element.
func findList(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "dl" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findList(c); found != nil {
			return found
		}
	}
	return nil
}

func parseList(dl *html.Node) []*Item {
	var items []*Item
	for c := dl.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.Data {
		case "dt":
			items = append(items, parseEntry(c)...)
		case "hr":
			items = append(items, &Item{})
		}
	}
	return items
}

// parseEntry handles one DT element: either H3 + DL (a folder) or A
// (a link). The tolerant parser nests stray siblings (the folder's DL,
// a following HR) inside the unclosed DT, so one DT can yield more
// than one item.
func parseEntry(dt *html.Node) []*Item {
	var items []*Item
	for c := dt.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.Data {
		case "h3":
			items = append(items, &Item{Title: text(c)})
		case "a":
			items = append(items, &Item{Title: text(c), URL: attr(c, "href")})
		case "dl":
			if n := len(items); n > 0 && items[n-1].URL == "" {
				items[n-1].Children = parseList(c)
			}
		case "hr":
			items = append(items, &Item{})
		}
	}
	return items
}

func text(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return strings.TrimSpace(b.String())
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// Graft adds the parsed items to the canonical tree under the named
// container, appending after existing children. It returns the
// replacement tree and the number of nodes added.
func Graft(t *tree.Tree, container string, items []*Item) (*tree.Tree, int, error) {
	parent := t.Container(container)
	if parent == nil {
		return nil, 0, fmt.Errorf("graft import: unknown container %q", container)
	}
	added := 0
	for _, item := range items {
		next, node, err := t.Add(toBookmark(item), parent.ID, len(parent.Children))
		if err != nil {
			return nil, 0, fmt.Errorf("graft import: %w", err)
		}
		t = next
		parent = t.Container(container)
		added += len(node.IDs())
	}
	return t, added, nil
}

func toBookmark(item *Item) *tree.Bookmark {
	b := &tree.Bookmark{Title: item.Title, URL: item.URL}
	for _, child := range item.Children {
		b.Children = append(b.Children, toBookmark(child))
	}
	return b
}
