// Package parser extracts cards and the next-page marker from archive
// listing pages.
package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/hood-archiver/internal/crawler"
)

const (
	untitled           = "Untitled"
	lastModifiedMarker = "Last modified:"
)

// Config holds the selectors and markers used to read a listing page.
type Config struct {
	CardSelector      string
	TitleSelector     string
	SubtitleSelector  string
	NextSelector      string
	SoundMarker       string
	SoundIconSelector string
	StripURLPrefix    string
}

// DefaultConfig matches the archive mirror's card markup.
func DefaultConfig() Config {
	return Config{
		CardSelector:      "div.card",
		TitleSelector:     "div.card-title a",
		SubtitleSelector:  "div.card-subtitle",
		NextSelector:      `a[rel="next"], a.next`,
		SoundMarker:       "🔊",
		SoundIconSelector: `img[src*="sound"]`,
		StripURLPrefix:    "www.geocities.com/",
	}
}

// CardParser implements crawler.PageParser using goquery selectors.
type CardParser struct {
	cfg Config
}

// New constructs a CardParser. Every empty field, including the sound icon
// selector and the URL prefix, falls back to DefaultConfig.
func New(cfg Config) *CardParser {
	def := DefaultConfig()
	if cfg.CardSelector == "" {
		cfg.CardSelector = def.CardSelector
	}
	if cfg.TitleSelector == "" {
		cfg.TitleSelector = def.TitleSelector
	}
	if cfg.SubtitleSelector == "" {
		cfg.SubtitleSelector = def.SubtitleSelector
	}
	if cfg.NextSelector == "" {
		cfg.NextSelector = def.NextSelector
	}
	if cfg.SoundMarker == "" {
		cfg.SoundMarker = def.SoundMarker
	}
	if cfg.SoundIconSelector == "" {
		cfg.SoundIconSelector = def.SoundIconSelector
	}
	if cfg.StripURLPrefix == "" {
		cfg.StripURLPrefix = def.StripURLPrefix
	}
	return &CardParser{cfg: cfg}
}

// Parse implements crawler.PageParser.
func (p *CardParser) Parse(content []byte, _ string) (crawler.ParsedPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return crawler.ParsedPage{}, fmt.Errorf("parse html: %w", err)
	}

	items := make([]crawler.Item, 0)
	doc.Find(p.cfg.CardSelector).Each(func(_ int, card *goquery.Selection) {
		items = append(items, p.parseCard(card))
	})

	return crawler.ParsedPage{
		Items:   items,
		HasNext: doc.Find(p.cfg.NextSelector).Length() > 0,
	}, nil
}

func (p *CardParser) parseCard(card *goquery.Selection) crawler.Item {
	item := crawler.Item{Title: untitled}

	titleSel := card.Find(p.cfg.TitleSelector).First()
	if titleSel.Length() > 0 {
		item.Title = strings.TrimSpace(titleSel.Text())
	}

	if subtitle := card.Find(p.cfg.SubtitleSelector).First(); subtitle.Length() > 0 {
		rawURL, modified, found := strings.Cut(subtitle.Text(), lastModifiedMarker)
		item.URL = strings.TrimSpace(rawURL)
		if p.cfg.StripURLPrefix != "" {
			item.URL = strings.ReplaceAll(item.URL, p.cfg.StripURLPrefix, "")
		}
		if found {
			if modified = strings.TrimSpace(modified); modified != "" {
				item.LastModified = &modified
			}
		}
	}

	item.HasSound = strings.Contains(item.Title, p.cfg.SoundMarker)
	if !item.HasSound && p.cfg.SoundIconSelector != "" {
		item.HasSound = card.Find(p.cfg.SoundIconSelector).Length() > 0
	}
	return item
}
