// Package formextract pulls qualifying HTML <form> subtrees out of the raw
// HTTP payload of a WARC response record.
package formextract

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/saintfish/chardet"
	"golang.org/x/net/html"
	htmlcharset "golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
)

// ErrUndecodable marks a record whose HTML could not be decoded, or whose
// extracted form lacked a closing </form> tag (usually archive truncation).
var ErrUndecodable = errors.New("formextract: undecodable html")

// triggerAttrs are matched case-sensitively, in this order, against every
// <input> element's attribute set.
var triggerAttrs = []string{"pattern", "data-val-regex-pattern", "ng-pattern"}

const sniffBytes = 1024

// Extract parses the raw payload of an HTTP response record (status line,
// headers, body) and returns the total number of <form> elements seen and
// the source text of every qualifying one, in document order.
func Extract(r io.Reader) (nrForms int, qualifying []string, err error) {
	payload, err := io.ReadAll(r)
	if err != nil {
		return 0, nil, err
	}

	var (
		headerContentType string
		body              = payload
	)
	// Permissive HTTP split: on parse failure, fall back to the whole
	// payload as body rather than giving up.
	if resp, rerr := http.ReadResponse(bufio.NewReader(bytes.NewReader(payload)), nil); rerr == nil {
		headerContentType = resp.Header.Get("Content-Type")
		if b, berr := io.ReadAll(resp.Body); berr == nil {
			body = b
		}
		resp.Body.Close()
	}

	decoded, err := decodeBody(body, headerContentType)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return extractForms(decoded)
}

func decodeBody(body []byte, headerContentType string) (string, error) {
	if label := charsetLabel(headerContentType); label != "" {
		if enc, _, ok := htmlcharset.Lookup(label); ok {
			return decodeWith(enc, body)
		}
	}
	sample := body
	if len(sample) > sniffBytes {
		sample = sample[:sniffBytes]
	}
	result, err := chardet.NewTextDetector().DetectBest(sample)
	if err != nil || result == nil {
		return "", fmt.Errorf("no usable charset detected")
	}
	enc, _, ok := htmlcharset.Lookup(result.Charset)
	if !ok {
		return "", fmt.Errorf("unresolvable charset label %q", result.Charset)
	}
	return decodeWith(enc, body)
}

func decodeWith(enc encoding.Encoding, body []byte) (string, error) {
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

func charsetLabel(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}

type formFrame struct {
	start     int
	qualifies bool
}

// extractForms tokenizes doc as tag-soup HTML and returns every <form>
// element that has a descendant <input> with a trigger attribute, as an
// exact slice of doc's bytes from the form's opening '<' to its closing
// '>'. A form closed only by end-of-input (archive truncation) fails the
// whole record if it would otherwise have qualified.
func extractForms(doc string) (int, []string, error) {
	z := html.NewTokenizer(strings.NewReader(doc))
	var (
		offset  int
		nrForms int
		frames  []formFrame
		out     []string
	)
	for {
		tt := z.Next()
		raw := z.Raw()
		switch tt {
		case html.ErrorToken:
			for _, f := range frames {
				if f.qualifies {
					return 0, nil, ErrUndecodable
				}
			}
			return nrForms, out, nil
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch string(name) {
			case "form":
				if tt == html.StartTagToken {
					nrForms++
					frames = append(frames, formFrame{start: offset})
				}
			case "input":
				if hasAttr && len(frames) > 0 && inputQualifies(z) {
					for i := range frames {
						frames[i].qualifies = true
					}
				}
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) == "form" && len(frames) > 0 {
				f := frames[len(frames)-1]
				frames = frames[:len(frames)-1]
				if f.qualifies {
					end := offset + len(raw)
					text := doc[f.start:end]
					if !strings.Contains(text, "</form>") {
						return 0, nil, ErrUndecodable
					}
					out = append(out, text)
				}
			}
		}
		offset += len(raw)
	}
}

func inputQualifies(z *html.Tokenizer) bool {
	for {
		key, _, more := z.TagAttr()
		k := string(key)
		for _, trigger := range triggerAttrs {
			if k == trigger {
				return true
			}
		}
		if !more {
			return false
		}
	}
}

// EnumeratePatterns re-parses a stored form fragment and returns the value
// of every trigger attribute found on any <input>, in document order, in
// the fixed per-element order pattern, data-val-regex-pattern, ng-pattern.
func EnumeratePatterns(form string) []string {
	z := html.NewTokenizer(strings.NewReader(form))
	var out []string
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return out
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		name, hasAttr := z.TagName()
		if string(name) != "input" || !hasAttr {
			continue
		}
		attrs := collectAttrs(z)
		for _, trigger := range triggerAttrs {
			if v, ok := attrs[trigger]; ok {
				out = append(out, v)
			}
		}
	}
}

func collectAttrs(z *html.Tokenizer) map[string]string {
	attrs := make(map[string]string)
	for {
		key, val, more := z.TagAttr()
		attrs[string(key)] = string(val)
		if !more {
			return attrs
		}
	}
}

type elementFrame struct {
	start   int
	tag     string
	matches bool
}

// ElementsWith re-parses fragment and returns the exact source text of
// every subtree in which any descendant (or the element itself) carries an
// attribute whose value contains needle as a substring. Overlapping
// ancestor/descendant matches are both returned, since each independently
// satisfies the "some descendant matches" condition. Only elements closed by
// an end tag or written self-closing are returned: an element that is never
// closed, such as a void <input> written without the trailing slash, is not
// returned itself, though it still marks its open ancestors as matching.
func ElementsWith(fragment, needle string) []string {
	z := html.NewTokenizer(strings.NewReader(fragment))
	var (
		offset int
		stack  []elementFrame
		out    []string
	)
	for {
		tt := z.Next()
		raw := z.Raw()
		switch tt {
		case html.ErrorToken:
			return out
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			selfMatches := false
			if hasAttr {
				for {
					_, val, more := z.TagAttr()
					if strings.Contains(string(val), needle) {
						selfMatches = true
					}
					if !more {
						break
					}
				}
			}
			if selfMatches {
				for i := range stack {
					stack[i].matches = true
				}
			}
			switch tt {
			case html.StartTagToken:
				stack = append(stack, elementFrame{start: offset, tag: tag, matches: selfMatches})
			case html.SelfClosingTagToken:
				if selfMatches {
					out = append(out, raw)
				}
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if idx := lastFrameIndex(stack, tag); idx >= 0 {
				f := stack[idx]
				stack = append(stack[:idx], stack[idx+1:]...)
				if f.matches {
					end := offset + len(raw)
					out = append(out, fragment[f.start:end])
				}
			}
		}
		offset += len(raw)
	}
}

func lastFrameIndex(stack []elementFrame, tag string) int {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i].tag == tag {
			return i
		}
	}
	return -1
}
