package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
)

const notFoundErrorString = "Requested document not found"

// Citations extracts the citing handles from a raw CiTEc citedby response.
// An explicit upstream error element maps to ErrNotFound (no record for the
// handle) or ErrBlocked (anything else, typically IP throttling).
func Citations(raw []byte) ([]string, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: parse xml: %v", ErrMalformed, err)
	}

	if node := xmlquery.FindOne(doc, "//errorstring"); node != nil {
		msg := strings.TrimSpace(node.InnerText())
		if msg == notFoundErrorString {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, msg)
		}
		return nil, fmt.Errorf("%w: %s", ErrBlocked, msg)
	}

	var handles []string
	for _, node := range xmlquery.Find(doc, "//text") {
		ref := node.SelectAttr("ref")
		if ref == "" {
			continue
		}
		// The reference URL path after the host encodes the citing handle,
		// e.g. http://citec.repec.org/RePEc:abc:journl:v:1:y:2000:p:1-10.
		if _, handle, ok := strings.Cut(ref, ".org/"); ok && handle != "" {
			handles = append(handles, handle)
		}
	}
	return handles, nil
}
