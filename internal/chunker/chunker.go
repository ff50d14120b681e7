// Package chunker turns extracted document text into bounded, page-attributed chunks.
//
// Text is first partitioned into table and text segments. Table rows become one
// chunk each; text segments are split recursively on paragraph, line, word and
// finally character boundaries. Page numbers are estimated from character density
// and are approximate by construction.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"docflow/internal/models"
	"docflow/internal/util"

	"github.com/tmc/langchaingo/textsplitter"
)

// tablePattern matches an ASCII grid: a border line, one or more rows holding a
// column separator, and a closing border line.
var tablePattern = regexp.MustCompile(`(\+-+\+[^\n]*\n)([^\n]*\|[^\n]*\n)+(\+-+\+[^\n]*)`)

var separators = []string{"\n\n", "\n", " ", ""}

const figureWindow = 100

type SegmentKind string

const (
	SegmentTable SegmentKind = "table"
	SegmentText  SegmentKind = "text"
)

// Segment is a contiguous slice of the input; segments never overlap and
// together cover the whole input.
type Segment struct {
	Kind    SegmentKind
	Content string
	Start   int
	End     int
	Page    int
}

type Options struct {
	MaxChars int
	Overlap  int
	// PageStart is the page assigned to the first chunk.
	PageStart int
	// PageBias damps the page estimate: chars_per_page = total / (PageStart + n/PageBias).
	PageBias float64
}

func DefaultOptions() Options {
	return Options{MaxChars: 1000, Overlap: 200, PageStart: 1, PageBias: 10}
}

type Chunker struct {
	opts     Options
	splitter textsplitter.RecursiveCharacter
}

func New(opts Options) (*Chunker, error) {
	if opts.MaxChars <= 0 {
		return nil, fmt.Errorf("%w: max chars must be positive", util.ErrInvalidConfig)
	}
	if opts.Overlap < 0 || opts.MaxChars <= opts.Overlap {
		return nil, fmt.Errorf("%w: max chars %d must exceed overlap %d", util.ErrInvalidConfig, opts.MaxChars, opts.Overlap)
	}
	if opts.PageStart < 1 {
		return nil, fmt.Errorf("%w: page start must be >= 1", util.ErrInvalidConfig)
	}
	if opts.PageBias <= 0 {
		return nil, fmt.Errorf("%w: page bias must be positive", util.ErrInvalidConfig)
	}
	return &Chunker{
		opts: opts,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithSeparators(separators),
			textsplitter.WithChunkSize(opts.MaxChars),
			textsplitter.WithChunkOverlap(opts.Overlap),
			textsplitter.WithLenFunc(utf8.RuneCountInString),
		),
	}, nil
}

// Segments partitions text into table and text segments in input order.
func (c *Chunker) Segments(text string) []Segment {
	if text == "" {
		return nil
	}
	out := make([]Segment, 0, 4)
	last := 0
	for _, m := range tablePattern.FindAllStringIndex(text, -1) {
		if m[0] > last {
			out = append(out, Segment{Kind: SegmentText, Content: text[last:m[0]], Start: last, End: m[0], Page: c.opts.PageStart})
		}
		out = append(out, Segment{Kind: SegmentTable, Content: text[m[0]:m[1]], Start: m[0], End: m[1], Page: c.opts.PageStart})
		last = m[1]
	}
	if last < len(text) {
		out = append(out, Segment{Kind: SegmentText, Content: text[last:], Start: last, End: len(text), Page: c.opts.PageStart})
	}
	return out
}

// Chunk splits text into chunks numbered 1..N in emission order.
func (c *Chunker) Chunk(text string) ([]models.Chunk, error) {
	chunks := make([]models.Chunk, 0, 16)
	for _, seg := range c.Segments(text) {
		switch seg.Kind {
		case SegmentTable:
			for _, row := range strings.Split(seg.Content, "\n") {
				if strings.TrimSpace(row) == "" {
					continue
				}
				ch := newChunk(row, seg.Page)
				ch.HasTables = true
				ch.IsTableRow = true
				chunks = append(chunks, ch)
			}
		default:
			pieces, err := c.splitter.SplitText(seg.Content)
			if err != nil {
				return nil, fmt.Errorf("split text segment at %d: %w", seg.Start, err)
			}
			for _, piece := range pieces {
				if strings.TrimSpace(piece) == "" {
					continue
				}
				ch := newChunk(piece, seg.Page)
				ch.HasFigures = strings.Contains(util.Truncate(piece, figureWindow), "Figure")
				chunks = append(chunks, ch)
			}
		}
	}
	for i := range chunks {
		chunks[i].ChunkNum = i + 1
	}
	AssignPages(chunks, c.opts.PageStart, c.opts.PageBias)
	return chunks, nil
}

// AssignPages overwrites ApproxPage using the density heuristic. Pages never
// decrease along the slice.
func AssignPages(chunks []models.Chunk, pageStart int, bias float64) {
	if len(chunks) == 0 {
		return
	}
	if pageStart < 1 {
		pageStart = 1
	}
	if bias <= 0 {
		bias = 10
	}
	total := 0
	for _, ch := range chunks {
		total += ch.CharCount
	}
	charsPerPage := float64(total) / (float64(pageStart) + float64(len(chunks))/bias)

	page := pageStart
	acc := 0
	for i := range chunks {
		acc += chunks[i].CharCount
		if float64(acc) > charsPerPage {
			page++
			acc = 0
		}
		chunks[i].ApproxPage = page
	}
}

func newChunk(content string, page int) models.Chunk {
	n := utf8.RuneCountInString(content)
	return models.Chunk{
		Content:       content,
		ApproxPage:    page,
		CharCount:     n,
		WordCount:     util.WordCount(content),
		TokenEstimate: n / 4,
	}
}
