// Package chromium implements a file-backed native bookmark host over the
// Chromium "Bookmarks" JSON file.
//
// The host keeps the whole tree in memory and rewrites the file atomically
// on every mutation, the way Chromium itself does. A filesystem watcher
// detects writes made by the browser while the daemon is running and
// surfaces them as a single external-change event; the engine responds
// with a full resync rather than per-event reconciliation, since the file
// format carries no change log.
package chromium

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/marksync/marksync/internal/native"
	"github.com/marksync/marksync/internal/tree"
)

// Root keys of the Chromium bookmarks file and the containers they map to.
// Chromium has no menu root; the menu container is handled as an
// unsupported container by the resolver.
var rootContainers = map[string]string{
	"bookmark_bar": tree.ContainerToolbar,
	"other":        tree.ContainerOther,
	"synced":       tree.ContainerMobile,
}

// rootTitles are the display names Chromium gives its roots.
var rootTitles = map[string]string{
	"bookmark_bar": "Bookmarks bar",
	"other":        "Other bookmarks",
	"synced":       "Mobile bookmarks",
}

// rootOrder fixes the serialization order of the roots.
var rootOrder = []string{"bookmark_bar", "other", "synced"}

type fileFormat struct {
	Checksum string               `json:"checksum,omitempty"`
	Roots    map[string]*fileNode `json:"roots"`
	Version  int                  `json:"version"`
}

type fileNode struct {
	Children  []*fileNode `json:"children,omitempty"`
	DateAdded string      `json:"date_added,omitempty"`
	GUID      string      `json:"guid,omitempty"`
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Type      string      `json:"type"`
	URL       string      `json:"url,omitempty"`
}

const (
	typeURL    = "url"
	typeFolder = "folder"
)

// webkitNow returns the current time in Chromium's timestamp encoding,
// microseconds since 1601-01-01.
func webkitNow() string {
	const epochDelta = 11644473600 // seconds between 1601 and 1970
	micros := time.Now().Unix()*1e6 + epochDelta*1e6
	return strconv.FormatInt(micros, 10)
}

// toNative converts a file node subtree into the host-neutral form.
func toNative(fn *fileNode, parentID string, index int) *native.Node {
	n := &native.Node{
		ID:       fn.ID,
		ParentID: parentID,
		Index:    index,
		Title:    fn.Name,
		URL:      fn.URL,
	}
	for i, child := range fn.Children {
		n.Children = append(n.Children, toNative(child, fn.ID, i))
	}
	return n
}

// toFile converts a native subtree back into the file form. Folder nodes
// always carry a children array, even when empty; Chromium does the same.
func toFile(n *native.Node) *fileNode {
	fn := &fileNode{
		ID:        n.ID,
		GUID:      guidFor(n.ID),
		Name:      n.Title,
		URL:       n.URL,
		DateAdded: webkitNow(),
	}
	if n.URL == "" {
		fn.Type = typeFolder
		fn.Children = []*fileNode{}
	} else {
		fn.Type = typeURL
	}
	for _, child := range n.Children {
		fn.Children = append(fn.Children, toFile(child))
	}
	return fn
}

// guidFor derives a stable RFC 4122 shaped identifier from a node id. Real
// Chromium assigns random GUIDs; stability against the id is enough for a
// file the browser re-checksums on load.
func guidFor(id string) string {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		n = 0
	}
	return fmt.Sprintf("00000000-0000-4000-8000-%012d", n)
}

func encodeFile(roots map[string]*native.Node) ([]byte, error) {
	out := fileFormat{Roots: make(map[string]*fileNode, len(roots)), Version: 1}
	for key, node := range roots {
		out.Roots[key] = toFile(node)
	}
	return json.MarshalIndent(out, "", "   ")
}

func decodeFile(data []byte) (map[string]*native.Node, error) {
	var in fileFormat
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode bookmarks file: %w", err)
	}
	if in.Roots == nil {
		return nil, fmt.Errorf("bookmarks file has no roots")
	}
	roots := make(map[string]*native.Node, len(in.Roots))
	for key, fn := range in.Roots {
		if _, known := rootContainers[key]; !known {
			continue
		}
		roots[key] = toNative(fn, superRootID, 0)
	}
	for _, key := range rootOrder {
		if _, ok := roots[key]; !ok {
			return nil, fmt.Errorf("bookmarks file missing root %q", key)
		}
	}
	return roots, nil
}
