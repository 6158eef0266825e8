package recognize

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// TextFromHOCR rebuilds plain text from Tesseract hOCR output, one line per
// ocr_line element, keeping only words whose x_wconf is at least minConf.
func TextFromHOCR(doc string, minConf float64) (string, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", fmt.Errorf("parse hocr: %w", err)
	}
	var lines []string
	var cur []string
	inLine := false
	flush := func() {
		if len(cur) > 0 {
			lines = append(lines, strings.Join(cur, " "))
		}
		cur = cur[:0]
	}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			classes := attr(n, "class")
			switch {
			case hasClass(classes, "ocr_line"), hasClass(classes, "ocr_header"), hasClass(classes, "ocr_caption"), hasClass(classes, "ocr_textfloat"):
				flush()
				inLine = true
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					walk(c)
				}
				flush()
				inLine = false
				return
			case hasClass(classes, "ocrx_word"):
				if inLine && wordConfidence(attr(n, "title")) >= minConf {
					if w := strings.TrimSpace(textOf(n)); w != "" {
						cur = append(cur, w)
					}
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return strings.Join(lines, "\n"), nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(classes, want string) bool {
	for _, c := range strings.Fields(classes) {
		if c == want {
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			walk(k)
		}
	}
	walk(n)
	return b.String()
}

// wordConfidence reads x_wconf from an hOCR title such as
// "bbox 10 20 30 40; x_wconf 91". Missing values count as 0.
func wordConfidence(title string) float64 {
	for _, prop := range strings.Split(title, ";") {
		fields := strings.Fields(prop)
		if len(fields) == 2 && fields[0] == "x_wconf" {
			if v, err := strconv.ParseFloat(fields[1], 64); err == nil {
				return v
			}
		}
	}
	return 0
}
