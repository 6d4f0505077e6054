package bsky

import "log/slog"

// Facet feature type identifiers used on the wire.
const (
	featureLink    = "app.bsky.richtext.facet#link"
	featureMention = "app.bsky.richtext.facet#mention"
	featureTag     = "app.bsky.richtext.facet#tag"
)

// ByteSlice is a half-open [ByteStart, ByteEnd) range into the UTF-8
// encoding of the message text.
type ByteSlice struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

// Feature is one decoration applied to a facet's byte range. Exactly one of
// URI, DID, or Tag is set depending on Type.
type Feature struct {
	Type string `json:"$type"`
	URI  string `json:"uri,omitempty"`
	DID  string `json:"did,omitempty"`
	Tag  string `json:"tag,omitempty"`
}

// Facet is a byte-range annotation on a message.
type Facet struct {
	Index    ByteSlice `json:"index"`
	Features []Feature `json:"features"`
}

// SpanKind identifies the type of a recomposed span.
type SpanKind int

const (
	SpanText SpanKind = iota
	SpanLink
	SpanMention
	SpanTag
)

// Span is one typed segment of a rich message. A message is an ordered
// sequence of spans; BuildMessage turns the sequence back into wire form.
type Span struct {
	Kind SpanKind
	Text string
	URI  string // SpanLink
	DID  string // SpanMention
	Tag  string // SpanTag
}

// Recompose splits annotated message text into an ordered span sequence.
//
// Facet offsets are byte offsets into the UTF-8 encoding, so all slicing
// happens on the raw bytes; a facet boundary inside a multi-byte character
// would otherwise corrupt it. Facets are assumed ordered and non-overlapping
// (platform guarantee); ranges that fall outside the text or behind the
// cursor are skipped. Unrecognized feature types are dropped with a warning.
func Recompose(text string, facets []Facet) []Span {
	raw := []byte(text)
	if len(facets) == 0 {
		return []Span{{Kind: SpanText, Text: text}}
	}
	var spans []Span
	cursor := 0
	for _, f := range facets {
		start, end := f.Index.ByteStart, f.Index.ByteEnd
		if start < cursor || end < start || end > len(raw) {
			slog.Warn("skipping out-of-range facet",
				slog.Int("byte_start", start), slog.Int("byte_end", end), slog.Int("len", len(raw)))
			continue
		}
		if start > cursor {
			spans = append(spans, Span{Kind: SpanText, Text: string(raw[cursor:start])})
		}
		body := string(raw[start:end])
		for _, feat := range f.Features {
			switch feat.Type {
			case featureLink:
				spans = append(spans, Span{Kind: SpanLink, Text: body, URI: feat.URI})
			case featureMention:
				spans = append(spans, Span{Kind: SpanMention, Text: body, DID: feat.DID})
			case featureTag:
				spans = append(spans, Span{Kind: SpanTag, Text: body, Tag: feat.Tag})
			default:
				slog.Warn("dropping unrecognized facet feature", slog.String("type", feat.Type))
			}
		}
		cursor = end
	}
	if cursor < len(raw) {
		spans = append(spans, Span{Kind: SpanText, Text: string(raw[cursor:])})
	}
	return spans
}

// BuildMessage assembles a span sequence into outbound text plus facets,
// recomputing byte offsets from scratch so spans can be freely prefixed or
// reordered before sending.
func BuildMessage(spans []Span) (string, []Facet) {
	var buf []byte
	var facets []Facet
	for _, s := range spans {
		start := len(buf)
		buf = append(buf, s.Text...)
		end := len(buf)
		var feat Feature
		switch s.Kind {
		case SpanText:
			continue
		case SpanLink:
			feat = Feature{Type: featureLink, URI: s.URI}
		case SpanMention:
			feat = Feature{Type: featureMention, DID: s.DID}
		case SpanTag:
			feat = Feature{Type: featureTag, Tag: s.Tag}
		}
		facets = append(facets, Facet{
			Index:    ByteSlice{ByteStart: start, ByteEnd: end},
			Features: []Feature{feat},
		})
	}
	return string(buf), facets
}
