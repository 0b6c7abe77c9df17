// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package spider

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// acmDOIBase replaces the doi.org resolver for CCS links so the request
// lands on the ACM Digital Library page directly. Tests point it at a local server.
var acmDOIBase = "https://dl.acm.org/doi/"

const doiResolver = "https://doi.org/"

// ccsAdapter reads ACM DL pages: div#abstracts div[role=paragraph].
type ccsAdapter struct{ f *fetcher }

func (a *ccsAdapter) PaperInfo(ctx context.Context, pageURL string) (PaperInfo, error) {
	if strings.HasPrefix(pageURL, doiResolver) {
		pageURL = acmDOIBase + strings.TrimPrefix(pageURL, doiResolver)
	}
	p, err := a.f.get(ctx, pageURL)
	if err != nil {
		return PaperInfo{}, err
	}

	text := cleanText(p.doc.Find(`div#abstracts div[role="paragraph"]`).First().Text())
	if text == "" {
		return PaperInfo{}, fmt.Errorf("%w: %s", ErrNoAbstract, pageURL)
	}
	return PaperInfo{Abstract: text}, nil
}

// ndssAdapter reads NDSS symposium pages. Two layouts exist: older pages
// keep the abstract in the third paragraph of div.paper-data, newer pages
// put it after an "Abstract:" heading in section.new-wrapper. Both an
// abstract and a PDF link are required.
type ndssAdapter struct{ f *fetcher }

func (a *ndssAdapter) PaperInfo(ctx context.Context, pageURL string) (PaperInfo, error) {
	p, err := a.f.get(ctx, pageURL)
	if err != nil {
		return PaperInfo{}, err
	}

	var abstract, pdf string
	if data := p.doc.Find("div.paper-data").First(); data.Length() > 0 {
		abstract = cleanText(data.Find("p").Eq(2).Text())
		pdf, _ = p.doc.Find("a.pdf-button").First().Attr("href")
	} else if wrapper := p.doc.Find("section.new-wrapper").First(); wrapper.Length() > 0 {
		heading := wrapper.Find("h2").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return strings.TrimSpace(s.Text()) == "Abstract:"
		}).First()
		if heading.Length() > 0 {
			abstract = cleanText(heading.NextAllFiltered("p").First().Text())
		}
		pdf, _ = wrapper.Find("a").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return strings.TrimSpace(s.Text()) == "Paper"
		}).First().Attr("href")
	} else {
		return PaperInfo{}, fmt.Errorf("%w: unrecognized page layout at %s", ErrNoAbstract, pageURL)
	}

	if abstract == "" || strings.TrimSpace(pdf) == "" {
		return PaperInfo{}, fmt.Errorf("%w: incomplete paper info at %s", ErrNoAbstract, pageURL)
	}
	return PaperInfo{Abstract: abstract, PDFURL: p.resolve(pdf)}, nil
}

// xplMetadata captures the document metadata object IEEE Xplore embeds in a script.
var xplMetadata = regexp.MustCompile(`(?s)xplGlobal\.document\.metadata=(\{.*?\});`)

// spAdapter reads IEEE Xplore pages, preferring the embedded metadata JSON
// and falling back to the rendered abstract block.
type spAdapter struct{ f *fetcher }

func (a *spAdapter) PaperInfo(ctx context.Context, pageURL string) (PaperInfo, error) {
	p, err := a.f.get(ctx, pageURL)
	if err != nil {
		return PaperInfo{}, err
	}

	if m := xplMetadata.FindSubmatch(p.body); m != nil {
		var meta struct {
			Abstract string `json:"abstract"`
		}
		if json.Unmarshal(m[1], &meta) == nil && strings.TrimSpace(meta.Abstract) != "" {
			return PaperInfo{Abstract: cleanText(meta.Abstract)}, nil
		}
	}

	text := cleanText(p.doc.Find("div.abstract-text div.u-mb-1 div[xplmathjax]").First().Text())
	if text == "" {
		return PaperInfo{}, fmt.Errorf("%w: %s", ErrNoAbstract, pageURL)
	}
	return PaperInfo{Abstract: text}, nil
}

// ussAdapter reads USENIX presentation pages. The PDF link is optional.
type ussAdapter struct{ f *fetcher }

func (a *ussAdapter) PaperInfo(ctx context.Context, pageURL string) (PaperInfo, error) {
	p, err := a.f.get(ctx, pageURL)
	if err != nil {
		return PaperInfo{}, err
	}

	text := cleanText(p.doc.Find("div.field-name-field-paper-description div.field-item").First().Text())
	if text == "" {
		return PaperInfo{}, fmt.Errorf("%w: %s", ErrNoAbstract, pageURL)
	}
	info := PaperInfo{Abstract: text}
	if href, ok := p.doc.Find("div.field-name-field-final-paper-pdf a").First().Attr("href"); ok {
		info.PDFURL = p.resolve(href)
	}
	return info, nil
}
