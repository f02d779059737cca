// Package e2e provides end-to-end tests; this file renders the corpus as
// minimal manuscript files for the supported import formats.
package e2e

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
)

// SupportedManuscriptExtensions is the list of file extensions used in the
// file-based E2E tests. The importer also supports .pdf; a minimal PDF with
// extractable text is not generated here, and PDF parsing is covered by the
// importer's own tests.
var SupportedManuscriptExtensions = []string{".txt", ".md", ".epub", ".docx"}

// WriteManuscriptFile renders the manuscript as a file of the given
// extension. Plain-text formats keep the chapter structure through headings,
// EPUB through its table of contents; DOCX carries no chapter structure and
// imports as a single chapter.
func WriteManuscriptFile(ext string, m *Manuscript) ([]byte, error) {
	switch ext {
	case ".txt", ".md":
		return m.Source(), nil
	case ".epub":
		return manuscriptEPUB(m), nil
	case ".docx":
		return manuscriptDocx(m), nil
	}
	return nil, fmt.Errorf("no fixture writer for %s", ext)
}

// manuscriptEPUB builds an EPUB 2 archive with an NCX table of contents, one
// chapter file per corpus chapter.
func manuscriptEPUB(m *Manuscript) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	c, _ := w.Create("META-INF/container.xml")
	_, _ = c.Write([]byte(`<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
<rootfiles><rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/></rootfiles>
</container>`))

	var manifest, navMap strings.Builder
	manifest.WriteString(`<item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>`)
	for i, ch := range m.Chapters {
		file := fmt.Sprintf("chapter%d.xhtml", i+1)
		fmt.Fprintf(&manifest, `<item id="ch%d" href="%s" media-type="application/xhtml+xml"/>`, i+1, file)
		fmt.Fprintf(&navMap, `<navPoint id="np%d"><navLabel><text>%s</text></navLabel><content src="%s"/></navPoint>`, i+1, ch.Name, file)
	}

	opf, _ := w.Create("OEBPS/content.opf")
	_, _ = opf.Write([]byte(`<package xmlns="http://www.idpf.org/2007/opf" version="2.0"><manifest>` + manifest.String() + `</manifest></package>`))

	ncx, _ := w.Create("OEBPS/toc.ncx")
	_, _ = ncx.Write([]byte(`<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/"><navMap>` + navMap.String() + `</navMap></ncx>`))

	for i, ch := range m.Chapters {
		f, _ := w.Create(fmt.Sprintf("OEBPS/chapter%d.xhtml", i+1))
		var body strings.Builder
		for _, p := range ch.Paragraphs {
			body.WriteString("<p>" + p.Text + "</p>")
		}
		_, _ = f.Write([]byte(`<html><head><title>` + ch.Name + `</title></head><body>` + body.String() + `</body></html>`))
	}
	_ = w.Close()
	return buf.Bytes()
}

// manuscriptDocx builds a DOCX archive with one <w:p> block per paragraph.
func manuscriptDocx(m *Manuscript) []byte {
	var body strings.Builder
	for _, ch := range m.Chapters {
		for _, p := range ch.Paragraphs {
			body.WriteString(`<w:p><w:r><w:t>` + p.Text + `</w:t></w:r></w:p>`)
		}
	}
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, _ := w.Create("word/document.xml")
	_, _ = fw.Write([]byte(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + body.String() + `</w:body></w:document>`))
	_ = w.Close()
	return buf.Bytes()
}
