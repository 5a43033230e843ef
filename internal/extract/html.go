package extract

import (
	"os"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var whitespace = regexp.MustCompile(`\s+`)

func readHTML(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return "", err
	}

	doc.Find("script, style, nav, footer, header, aside").Remove()

	text := doc.Find("body").Text()
	text = whitespace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text), nil
}
