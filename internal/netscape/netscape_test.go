package netscape

import (
	"strings"
	"testing"

	"github.com/marksync/marksync/internal/tree"
)

func newTestTree(t *testing.T) *tree.Tree {
	t.Helper()
	tr := tree.New()
	tr, _, err := tr.Add(&tree.Bookmark{Title: "existing", URL: "http://old/"}, tr.Container("other").ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

// sample mirrors a real Firefox export: unclosed DT tags, a nested
// folder and a separator.
const sample = `<!DOCTYPE NETSCAPE-Bookmark-file-1>
<META HTTP-EQUIV="Content-Type" CONTENT="text/html; charset=UTF-8">
<TITLE>Bookmarks</TITLE>
<H1>Bookmarks Menu</H1>
<DL><p>
    <DT><A HREF="http://news.example/">Morning News</A>
    <DT><H3>Work</H3>
    <DL><p>
        <DT><A HREF="http://tracker.example/board">Tracker</A>
        <HR>
        <DT><A HREF="http://wiki.example/">  Team Wiki  </A>
    </DL><p>
    <DT><A HREF="http://recipes.example/">Recipes</A>
</DL>`

func TestParseNetscapeExport(t *testing.T) {
	items, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d top-level items, want 3", len(items))
	}

	if items[0].Title != "Morning News" || items[0].URL != "http://news.example/" {
		t.Fatalf("got first item %+v", items[0])
	}

	work := items[1]
	if work.Title != "Work" || work.URL != "" {
		t.Fatalf("got folder %+v", work)
	}
	if len(work.Children) != 3 {
		t.Fatalf("got %d folder children, want 3", len(work.Children))
	}
	sep := work.Children[1]
	if sep.Title != "" || sep.URL != "" || len(sep.Children) != 0 {
		t.Fatalf("middle child is not a separator: %+v", sep)
	}
	if work.Children[2].Title != "Team Wiki" {
		t.Fatalf("title not trimmed: %q", work.Children[2].Title)
	}

	if items[2].Title != "Recipes" {
		t.Fatalf("got last item %+v", items[2])
	}
}

func TestParseRejectsNonBookmarkHTML(t *testing.T) {
	_, err := Parse(strings.NewReader("<html><body><p>hello</p></body></html>"))
	if err == nil {
		t.Fatal("plain HTML accepted")
	}
}

func TestGraftAppendsUnderContainer(t *testing.T) {
	items, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatal(err)
	}

	tr, added, err := Graft(newTestTree(t), "other", items)
	if err != nil {
		t.Fatal(err)
	}
	// 3 top-level items plus 3 nodes inside the Work folder.
	if added != 6 {
		t.Fatalf("got %d nodes added, want 6", added)
	}

	other := tr.Container("other")
	if len(other.Children) != 4 {
		t.Fatalf("got %d children under other, want 4", len(other.Children))
	}
	if other.Children[0].Title != "existing" {
		t.Fatal("import did not append after existing children")
	}
	if other.Children[2].Title != "Work" || len(other.Children[2].Children) != 3 {
		t.Fatalf("folder not grafted: %+v", other.Children[2])
	}
	for _, id := range tr.Root.IDs() {
		if id < 0 {
			t.Fatalf("unassigned id in grafted tree")
		}
	}
}

func TestGraftUnknownContainer(t *testing.T) {
	if _, _, err := Graft(newTestTree(t), "attic", nil); err == nil {
		t.Fatal("unknown container accepted")
	}
}
