package parser

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"
	"github.com/tsawler/tabula/model"
	"github.com/tsawler/tabula/pages"
	"github.com/tsawler/tabula/reader"
	"github.com/tsawler/tabula/tables"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
)

const (
	defaultChunkSize    = 8000 // bytes
	defaultChunkOverlap = 0    // bytes
)

var pdfMagic = []byte("%PDF-")

// ErrNotPDF is returned for input that does not start with a PDF header
var ErrNotPDF = errors.New("input is not a PDF document")

type Extractor interface {
	Extract(ctx context.Context, r io.Reader, fileName string) iter.Seq2[models.Element, error]
}

type ParserConfig struct {
	ChunkSize    int
	ChunkOverlap int
	Images       bool
	Tables       bool
}

type Parser struct {
	cfg ParserConfig
}

func NewParser(cfg *config.Config) *Parser {
	p := ParserConfig{
		ChunkSize:    defaultChunkSize,
		ChunkOverlap: defaultChunkOverlap,
		Images:       true,
		Tables:       true,
	}
	if cfg != nil {
		if cfg.RAG.ChunkSize > 0 {
			p.ChunkSize = cfg.RAG.ChunkSize
		}
		if cfg.RAG.ChunkOverlap > 0 {
			p.ChunkOverlap = cfg.RAG.ChunkOverlap
		}
	}
	return &Parser{cfg: p}
}

func NewParserWithConfig(cfg ParserConfig) *Parser {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	return &Parser{cfg: cfg}
}

// Extract lazily yields the elements of the PDF in r, page by page. The
// stream is spooled to a temporary file because both PDF readers need
// random access. A failure is yielded once as an extraction PipelineError
// and ends the sequence.
func (p *Parser) Extract(ctx context.Context, r io.Reader, fileName string) iter.Seq2[models.Element, error] {
	return func(yield func(models.Element, error) bool) {
		fail := func(err error) {
			yield(models.Element{}, models.NewPipelineError(models.StageExtraction, fileName, err))
		}

		f, err := spool(r)
		if err != nil {
			fail(err)
			return
		}
		defer func() {
			f.Close()
			os.Remove(f.Name())
		}()

		stat, err := f.Stat()
		if err != nil {
			fail(err)
			return
		}

		textReader, err := openText(f, stat.Size())
		if err != nil {
			fail(fmt.Errorf("failed to open pdf: %w", err))
			return
		}

		// images and tables are best effort
		var layout *reader.Reader
		if p.cfg.Images || p.cfg.Tables {
			layout, err = reader.Open(f.Name())
			if err != nil {
				log.Warn().Err(err).Str("source", fileName).Msg("Layout reader unavailable, extracting text only")
			} else {
				defer layout.Close()
			}
		}

		numPages := textReader.NumPage()
		log.Debug().Str("source", fileName).Int("pages", numPages).Msg("Extracting pdf")

		for i := 1; i <= numPages; i++ {
			if err := ctx.Err(); err != nil {
				fail(err)
				return
			}

			elements, err := p.parsePage(textReader, layout, i, fileName)
			if err != nil {
				fail(fmt.Errorf("page %d: %w", i, err))
				return
			}
			for _, el := range elements {
				if !yield(el, nil) {
					return
				}
			}
		}
	}
}

// ParseFile extracts every element of the PDF at path
func (p *Parser) ParseFile(ctx context.Context, path string) ([]models.Element, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, models.NewPipelineError(models.StageExtraction, path, err)
	}
	defer f.Close()

	var out []models.Element
	for el, err := range p.Extract(ctx, f, filepath.Base(path)) {
		if err != nil {
			return nil, err
		}
		out = append(out, el)
	}
	return out, nil
}

func (p *Parser) parsePage(textReader *pdf.Reader, layout *reader.Reader, pageNum int, source string) ([]models.Element, error) {
	origin := models.Origin{Source: source, PageNumber: pageNum}

	pageText, err := plainText(textReader, pageNum)
	if err != nil {
		return nil, err
	}

	var elements []models.Element
	for _, chunk := range p.getChunks(pageText, pageNum) {
		elements = append(elements, models.Element{Kind: models.KindText, Origin: origin, Text: chunk.Content})
	}

	if layout == nil {
		return elements, nil
	}

	page, err := layout.GetPage(pageNum - 1)
	if err != nil {
		log.Warn().Err(err).Str("source", source).Int("page", pageNum).Msg("Skipping page layout")
		return elements, nil
	}
	if p.cfg.Tables {
		elements = append(elements, pageTables(layout, page, origin)...)
	}
	if p.cfg.Images {
		elements = append(elements, pageImages(layout, page, origin)...)
	}
	return elements, nil
}

func spool(r io.Reader) (*os.File, error) {
	f, err := os.CreateTemp("", "pdf-rag-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	cleanup := func() {
		f.Close()
		os.Remove(f.Name())
	}

	if _, err := io.Copy(f, r); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to buffer upload: %w", err)
	}

	header := make([]byte, len(pdfMagic))
	if _, err := f.ReadAt(header, 0); err != nil || !bytes.Equal(header, pdfMagic) {
		cleanup()
		return nil, ErrNotPDF
	}
	return f, nil
}

// the pdf package panics on some malformed files
func openText(f io.ReaderAt, size int64) (r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed pdf: %v", rec)
		}
	}()
	return pdf.NewReader(f, size)
}

func plainText(r *pdf.Reader, pageNum int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed page: %v", rec)
		}
	}()

	page := r.Page(pageNum)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}

func pageTables(r *reader.Reader, page *pages.Page, origin models.Origin) []models.Element {
	fragments, err := r.ExtractTextFragments(page)
	if err != nil || len(fragments) == 0 {
		return nil
	}

	width, _ := page.Width()
	height, _ := page.Height()
	mp := model.NewPage(width, height)
	mp.Number = origin.PageNumber
	for _, f := range fragments {
		mp.RawText = append(mp.RawText, model.TextFragment{
			Text:     f.Text,
			BBox:     model.BBox{X: f.X, Y: f.Y, Width: f.Width, Height: f.Height},
			FontSize: f.FontSize,
			FontName: f.FontName,
		})
	}

	return detectTables(mp, origin)
}

// detectTables finds tables in the positioned text of a page and renders
// each one as html
func detectTables(mp *model.Page, origin models.Origin) []models.Element {
	detected, err := tables.NewGeometricDetector().Detect(mp)
	if err != nil {
		log.Warn().Err(err).Str("source", origin.Source).Int("page", origin.PageNumber).Msg("Table detection failed")
		return nil
	}

	var out []models.Element
	for _, t := range detected {
		md := t.ToMarkdown()
		if strings.TrimSpace(md) == "" {
			continue
		}
		html, err := convertToHTML(md)
		if err != nil {
			log.Warn().Err(err).Msg("Skipping table")
			continue
		}
		out = append(out, models.Element{Kind: models.KindTable, Origin: origin, Text: html})
	}
	return out
}

func pageImages(r *reader.Reader, page *pages.Page, origin models.Origin) []models.Element {
	images, err := r.ExtractPageImages(page)
	if err != nil {
		log.Warn().Err(err).Str("source", origin.Source).Int("page", origin.PageNumber).Msg("Image extraction failed")
		return nil
	}

	var out []models.Element
	for _, img := range images {
		data, mime, err := encodeImage(img)
		if err != nil {
			log.Warn().Err(err).Str("image", img.Name).Int("page", origin.PageNumber).Msg("Skipping image")
			continue
		}
		out = append(out, models.Element{
			Kind:     models.KindImage,
			Origin:   origin,
			Base64:   base64.StdEncoding.EncodeToString(data),
			MIMEType: mime,
		})
	}
	return out
}

var jpegMagic = []byte{0xff, 0xd8, 0xff}

// ErrUnsupportedImage marks images vision models cannot read
var ErrUnsupportedImage = errors.New("unsupported image encoding")

// encodeImage keeps jpeg streams as they are and decodes raw pixel data to
// png. The filter name only reflects the first entry of a filter chain, so
// jpeg data is recognised by its magic bytes too.
func encodeImage(img reader.PageImage) ([]byte, string, error) {
	if bytes.HasPrefix(img.Data, jpegMagic) {
		return img.Data, "image/jpeg", nil
	}
	switch img.Filter {
	case "DCTDecode", "DCT":
		return img.Data, "image/jpeg", nil
	case "JPXDecode":
		return nil, "", fmt.Errorf("%w: jpeg 2000", ErrUnsupportedImage)
	}
	data, err := img.ToPNG()
	if err != nil {
		return nil, "", err
	}
	return data, "image/png", nil
}

// convertToHTML renders a markdown table as an html table
func convertToHTML(markdown string) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// chunk content into chunks with maxChars and overlapChars
func chunkContent(content string, maxChars, overlapChars int) []string {
	if maxChars <= 0 {
		return nil
	}
	if overlapChars < 0 {
		overlapChars = 0
	}
	if overlapChars >= maxChars {
		overlapChars = maxChars / 2
	}

	content = strings.TrimSpace(content)
	contentLen := len(content)
	if contentLen == 0 {
		return nil
	}
	if contentLen <= maxChars {
		return []string{content}
	}

	var chunks []string
	start := 0
	for start < contentLen {
		end := min(start+maxChars, contentLen)

		// prefer to break on a space, newline or period in the last 10%
		if end < contentLen {
			lookBack := min(maxChars/10, end-start)
			for i := end - 1; i >= end-lookBack && i > start; i-- {
				if content[i] == ' ' || content[i] == '\n' || content[i] == '.' {
					end = i + 1
					break
				}
			}
		}

		// never cut inside a multi-byte rune
		for end < contentLen && end > start+1 && !utf8.RuneStart(content[end]) {
			end--
		}

		if chunk := strings.TrimSpace(content[start:end]); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= contentLen {
			break
		}

		next := end - overlapChars
		for next > start && !utf8.RuneStart(content[next]) {
			next--
		}
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

// get chunks from content and page number
func (p *Parser) getChunks(content string, pageNumber int) []models.Chunk {
	var chunks []models.Chunk
	for i, s := range chunkContent(content, p.cfg.ChunkSize, p.cfg.ChunkOverlap) {
		chunks = append(chunks, models.Chunk{
			Content:    s,
			PageNumber: pageNumber,
			ChunkID:    i + 1,
		})
	}
	return chunks
}
