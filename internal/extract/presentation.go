package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var slidePath = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

type Presentation struct{}

type slide struct {
	number    int
	shapes    []string
	hasImages bool
}

func (p *Presentation) Extract(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: powerpoint file is empty", ErrExtraction)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", extractionError("pptx", err)
	}

	var slides []slide
	for _, f := range zr.File {
		m := slidePath.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, _ := strconv.Atoi(m[1])
		s, err := readSlide(f)
		if err != nil {
			return "", extractionError("pptx", fmt.Errorf("slide %d: %w", n, err))
		}
		s.number = n
		slides = append(slides, s)
	}
	if len(slides) == 0 {
		return "", extractionError("pptx", errors.New("no slides found"))
	}

	sort.Slice(slides, func(i, j int) bool { return slides[i].number < slides[j].number })
	return renderPresentation(slides), nil
}

// readSlide collects the text of every shape in a slide part. The part is
// parsed leniently as markup, so namespaced element names keep their
// prefix in lower case.
func readSlide(f *zip.File) (slide, error) {
	rc, err := f.Open()
	if err != nil {
		return slide{}, err
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return slide{}, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return slide{}, err
	}

	var s slide
	doc.Find("*").Each(func(_ int, sel *goquery.Selection) {
		switch goquery.NodeName(sel) {
		case "p:pic":
			s.hasImages = true
		case "p:sp":
			if text := shapeText(sel); text != "" {
				s.shapes = append(s.shapes, text)
			}
		}
	})
	return s, nil
}

func shapeText(shape *goquery.Selection) string {
	var paragraphs []string
	shape.Find("*").Each(func(_ int, sel *goquery.Selection) {
		if goquery.NodeName(sel) != "a:p" {
			return
		}
		var sb strings.Builder
		sel.Find("*").Each(func(_ int, run *goquery.Selection) {
			if goquery.NodeName(run) == "a:t" {
				sb.WriteString(run.Text())
			}
		})
		paragraphs = append(paragraphs, sb.String())
	})
	return strings.TrimSpace(strings.Join(paragraphs, "\n"))
}

func renderPresentation(slides []slide) string {
	var sb strings.Builder
	sb.WriteString("=== POWERPOINT PRESENTATION ===\n\n")
	fmt.Fprintf(&sb, "Total slides: %d\n\n", len(slides))

	for i, s := range slides {
		fmt.Fprintf(&sb, "--- SLIDE %d ---\n\n", i+1)

		if len(s.shapes) > 0 {
			fmt.Fprintf(&sb, "TITLE: %s\n\n", s.shapes[0])
			for _, text := range s.shapes {
				sb.WriteString(text)
				sb.WriteString("\n")
			}
			sb.WriteString("\n\n")
		}
		if s.hasImages {
			sb.WriteString("(This slide contains images)\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
