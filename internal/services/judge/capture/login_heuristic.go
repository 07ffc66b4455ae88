package capture

import (
	"strings"

	"golang.org/x/net/html"
)

var loginMarkers = []string{"log in", "sign in"}

// LooksLikeLoginPage reports whether rendered HTML resembles the
// platform's login page, which indicates the session cookies are no
// longer usable. Only visible text nodes are inspected so markup in
// scripts or attributes cannot trigger a false positive.
func LooksLikeLoginPage(pageHTML string) bool {
	doc, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		// Unparseable output: fall back to a raw scan rather than
		// misreporting a capture failure as a usable page.
		lowered := strings.ToLower(pageHTML)
		for _, marker := range loginMarkers {
			if strings.Contains(lowered, marker) {
				return true
			}
		}
		return false
	}
	return containsLoginText(doc)
}

func containsLoginText(node *html.Node) bool {
	if node.Type == html.ElementNode {
		switch node.Data {
		case "script", "style", "noscript":
			return false
		}
	}
	if node.Type == html.TextNode {
		lowered := strings.ToLower(node.Data)
		for _, marker := range loginMarkers {
			if strings.Contains(lowered, marker) {
				return true
			}
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if containsLoginText(child) {
			return true
		}
	}
	return false
}
