package importer

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"

	"golang.org/x/net/html"

	"github.com/proofloop/galley/internal/models"
)

// EPUB container and package structures. Only the parts needed to locate the
// table of contents are mapped.
type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type opfPackage struct {
	Manifest struct {
		Items []opfItem `xml:"item"`
	} `xml:"manifest"`
}

type opfItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

type ncxDocument struct {
	NavPoints []ncxNavPoint `xml:"navMap>navPoint"`
}

type ncxNavPoint struct {
	Text    string `xml:"navLabel>text"`
	Content struct {
		Src string `xml:"src,attr"`
	} `xml:"content"`
	Children []ncxNavPoint `xml:"navPoint"`
}

// tocEntry is one table-of-contents row. Href is resolved to a full archive
// path.
type tocEntry struct {
	Title string
	Href  string
}

// parseEPUB extracts chapters from an EPUB archive. The table of contents
// decides which files count as chapters; the spine carries covers and
// colophons we do not want.
func parseEPUB(content []byte) ([]models.ChapterInput, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("parse EPUB: not a zip: %w", err)
	}

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	toc, err := epubTOC(files)
	if err != nil {
		return nil, err
	}
	if len(toc) == 0 {
		return nil, fmt.Errorf("parse EPUB: no table of contents found")
	}

	var chapters []models.ChapterInput
	seen := make(map[string]bool)
	for _, entry := range toc {
		if skipChapterTitle(entry.Title) {
			continue
		}
		// Fragment hrefs point into a file; the file itself is the chapter.
		href := entry.Href
		if i := strings.IndexByte(href, '#'); i >= 0 {
			href = href[:i]
		}
		if seen[href] {
			continue
		}
		seen[href] = true

		f, ok := files[href]
		if !ok {
			continue
		}
		data, err := readZipFile(f)
		if err != nil {
			return nil, fmt.Errorf("parse EPUB: read %s: %w", href, err)
		}
		paragraphs, err := extractParagraphs(data)
		if err != nil {
			return nil, fmt.Errorf("parse EPUB: chapter %s: %w", entry.Title, err)
		}
		if len(paragraphs) == 0 {
			continue
		}
		chapters = append(chapters, models.ChapterInput{Name: entry.Title, Paragraphs: paragraphs})
	}
	return chapters, nil
}

// epubTOC locates and parses the table of contents: the NCX file for EPUB 2,
// falling back to the XHTML navigation document for EPUB 3.
func epubTOC(files map[string]*zip.File) ([]tocEntry, error) {
	container, ok := files["META-INF/container.xml"]
	if !ok {
		return nil, fmt.Errorf("parse EPUB: META-INF/container.xml missing")
	}
	data, err := readZipFile(container)
	if err != nil {
		return nil, err
	}
	var c epubContainer
	if err := xml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse EPUB: container.xml: %w", err)
	}
	if len(c.Rootfiles) == 0 || c.Rootfiles[0].FullPath == "" {
		return nil, fmt.Errorf("parse EPUB: no rootfile declared")
	}
	rootfile := c.Rootfiles[0].FullPath

	opf, ok := files[rootfile]
	if !ok {
		return nil, fmt.Errorf("parse EPUB: rootfile %s missing", rootfile)
	}
	data, err = readZipFile(opf)
	if err != nil {
		return nil, err
	}
	var pkg opfPackage
	if err := xml.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("parse EPUB: %s: %w", rootfile, err)
	}
	opfDir := path.Dir(rootfile)

	for _, item := range pkg.Manifest.Items {
		if item.MediaType == "application/x-dtbncx+xml" {
			return ncxTOC(files, resolveHref(opfDir, item.Href))
		}
	}
	for _, item := range pkg.Manifest.Items {
		if item.MediaType == "application/xhtml+xml" && strings.Contains(item.Properties, "nav") {
			return navTOC(files, resolveHref(opfDir, item.Href))
		}
	}
	return nil, nil
}

// ncxTOC reads an EPUB 2 NCX file. Nested navPoints are flattened.
func ncxTOC(files map[string]*zip.File, ncxPath string) ([]tocEntry, error) {
	f, ok := files[ncxPath]
	if !ok {
		return nil, fmt.Errorf("parse EPUB: NCX file %s missing", ncxPath)
	}
	data, err := readZipFile(f)
	if err != nil {
		return nil, err
	}
	var ncx ncxDocument
	if err := xml.Unmarshal(data, &ncx); err != nil {
		return nil, fmt.Errorf("parse EPUB: %s: %w", ncxPath, err)
	}

	ncxDir := path.Dir(ncxPath)
	var toc []tocEntry
	var flatten func(points []ncxNavPoint)
	flatten = func(points []ncxNavPoint) {
		for _, p := range points {
			if p.Content.Src != "" {
				toc = append(toc, tocEntry{
					Title: strings.TrimSpace(p.Text),
					Href:  resolveHref(ncxDir, p.Content.Src),
				})
			}
			flatten(p.Children)
		}
	}
	flatten(ncx.NavPoints)
	return toc, nil
}

// navTOC reads an EPUB 3 XHTML navigation document: the <nav> marked as the
// table of contents, one entry per list item link.
func navTOC(files map[string]*zip.File, navPath string) ([]tocEntry, error) {
	f, ok := files[navPath]
	if !ok {
		return nil, fmt.Errorf("parse EPUB: navigation document %s missing", navPath)
	}
	data, err := readZipFile(f)
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse EPUB: %s: %w", navPath, err)
	}

	nav := findTOCNav(doc)
	if nav == nil {
		return nil, nil
	}

	navDir := path.Dir(navPath)
	var toc []tocEntry
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "li" {
			if a := findElement(n, "a"); a != nil {
				if href := attrValue(a, "href"); href != "" {
					toc = append(toc, tocEntry{
						Title: nodeText(a),
						Href:  resolveHref(navDir, href),
					})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(nav)
	return toc, nil
}

// findTOCNav returns the <nav> with epub:type="toc" or role="doc-toc".
func findTOCNav(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "nav" {
		if t := attrValue(n, "epub:type"); t == "toc" {
			return n
		}
		if r := attrValue(n, "role"); r == "doc-toc" {
			return n
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findTOCNav(c); found != nil {
			return found
		}
	}
	return nil
}

// extractParagraphs pulls the <p> blocks out of a chapter body in document
// order. Empty and note-like paragraphs are dropped but leave a leading-space
// mark on the next kept paragraph, preserving the author's visual breaks.
func extractParagraphs(data []byte) ([]models.ParagraphInput, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	body := findElement(doc, "body")
	if body == nil {
		return nil, nil
	}

	var paragraphs []models.ParagraphInput
	leadingSpace := 0
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "p" {
			text := nodeText(n)
			if text == "" || skipParagraphText(text) || insideArchiveNotes(n) {
				if len(paragraphs) > 0 {
					leadingSpace = 1
				}
				return
			}
			paragraphs = append(paragraphs, models.ParagraphInput{Text: text, LeadingSpace: leadingSpace})
			leadingSpace = 0
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(body)
	return paragraphs, nil
}

// skipChapterTitle drops front and back matter by title.
func skipChapterTitle(title string) bool {
	t := strings.ToLower(strings.TrimSpace(title))
	if t == "preface" || t == "afterword" {
		return true
	}
	for _, prefix := range []string{"note:", "remark:", "skip:", "footer:"} {
		if strings.HasPrefix(t, prefix) {
			return true
		}
	}
	return false
}

// skipParagraphText drops inline remarks and translator notes.
func skipParagraphText(text string) bool {
	t := strings.ToLower(text)
	for _, prefix := range []string{"note:", "remark:", "skip:", "footer:", "chapter notes"} {
		if strings.HasPrefix(t, prefix) {
			return true
		}
	}
	return false
}

// insideArchiveNotes reports whether a paragraph sits in a
// blockquote.userstuff block, which AO3 exports use for author notes.
func insideArchiveNotes(n *html.Node) bool {
	parent := n.Parent
	if parent == nil || parent.Type != html.ElementNode || parent.Data != "blockquote" {
		return false
	}
	return strings.Contains(attrValue(parent, "class"), "userstuff")
}

func findElement(n *html.Node, name string) *html.Node {
	if n.Type == html.ElementNode && n.Data == name {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, name); found != nil {
			return found
		}
	}
	return nil
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// nodeText returns the concatenated text content of a node with whitespace
// collapsed.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// resolveHref resolves a relative href against the directory of the file that
// referenced it.
func resolveHref(baseDir, href string) string {
	if baseDir == "." || baseDir == "" {
		return path.Clean(href)
	}
	return path.Clean(path.Join(baseDir, href))
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
