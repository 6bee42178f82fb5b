package models

import (
	"fmt"
	"strconv"
)

// Kind identifies the variant of a ContentUnit
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindTable Kind = "table"
)

// ParseKind converts a stored type tag back into a Kind
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindText, KindImage, KindTable:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown content kind: %q", s)
	}
}

// Origin locates a unit inside the uploaded file
type Origin struct {
	Source     string `json:"source"`
	PageNumber int    `json:"page_number"`
}

// ContentUnit is the atomic indexable item. It is implemented by TextUnit,
// ImageUnit and TableUnit only.
type ContentUnit interface {
	ID() string
	Kind() Kind
	// Content is the indexable text: raw text, image summary or table HTML.
	Content() string
	Origin() Origin
	isContentUnit()
}

type TextUnit struct {
	UnitID string
	Text   string
	Loc    Origin
}

func (u TextUnit) ID() string      { return u.UnitID }
func (u TextUnit) Kind() Kind      { return KindText }
func (u TextUnit) Content() string { return u.Text }
func (u TextUnit) Origin() Origin  { return u.Loc }
func (TextUnit) isContentUnit()    {}

type ImageUnit struct {
	UnitID   string
	Summary  string
	Base64   string
	MIMEType string
	Loc      Origin
}

func (u ImageUnit) ID() string      { return u.UnitID }
func (u ImageUnit) Kind() Kind      { return KindImage }
func (u ImageUnit) Content() string { return u.Summary }
func (u ImageUnit) Origin() Origin  { return u.Loc }
func (ImageUnit) isContentUnit()    {}

// DataURL renders the image payload for multimodal prompts
func (u ImageUnit) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", u.MIMEType, u.Base64)
}

type TableUnit struct {
	UnitID string
	HTML   string
	Loc    Origin
}

func (u TableUnit) ID() string      { return u.UnitID }
func (u TableUnit) Kind() Kind      { return KindTable }
func (u TableUnit) Content() string { return u.HTML }
func (u TableUnit) Origin() Origin  { return u.Loc }
func (TableUnit) isContentUnit()    {}

// Metadata flattens a unit into the string map persisted by the vector store
func Metadata(u ContentUnit) map[string]string {
	loc := u.Origin()
	m := map[string]string{
		MetaSource:     loc.Source,
		MetaPageNumber: strconv.Itoa(loc.PageNumber),
		MetaType:       string(u.Kind()),
	}
	if img, ok := u.(ImageUnit); ok {
		m[MetaBase64] = img.Base64
		m[MetaMIMEType] = img.MIMEType
	}
	return m
}

// UnitFromStored rebuilds the typed unit from what the vector store returned
func UnitFromStored(id, content string, metadata map[string]string) (ContentUnit, error) {
	kind, err := ParseKind(metadata[MetaType])
	if err != nil {
		return nil, err
	}

	loc := Origin{Source: metadata[MetaSource]}
	if p := metadata[MetaPageNumber]; p != "" {
		loc.PageNumber, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid page number %q: %w", p, err)
		}
	}

	switch kind {
	case KindImage:
		return ImageUnit{
			UnitID:   id,
			Summary:  content,
			Base64:   metadata[MetaBase64],
			MIMEType: metadata[MetaMIMEType],
			Loc:      loc,
		}, nil
	case KindTable:
		return TableUnit{UnitID: id, HTML: content, Loc: loc}, nil
	default:
		return TextUnit{UnitID: id, Text: content, Loc: loc}, nil
	}
}

// Chunk is a piece of page text produced by the splitter
type Chunk struct {
	Content    string
	PageNumber int
	ChunkID    int
}

// Element is raw extractor output. Images still need a summary before they
// become an ImageUnit.
type Element struct {
	Kind     Kind   `json:"kind"`
	Origin   Origin `json:"origin"`
	Text     string `json:"text,omitempty"`
	Base64   string `json:"-"`
	MIMEType string `json:"mime_type,omitempty"`
}
