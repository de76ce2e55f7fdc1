package search

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
)

// DefaultBaseURL is the advanced title search endpoint.
const DefaultBaseURL = "https://www.imdb.com/search/title/"

// PerPage is the number of titles on one result page.
const PerPage = 50

// SearchURL builds the result page URL for title starting at result start
// (1-based; values <= 1 give the first page).
func SearchURL(base, title string, start int) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", errors.New("empty title")
	}
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	q := u.Query()
	q.Set("title", title)
	if start > 1 {
		q.Set("start", strconv.Itoa(start))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// PageURLs returns the result page URLs needed to cover results titles.
// results <= 0 yields only the first page.
//
// Example (results=120):
//
//	...?title=x
//	...?start=51&title=x
//	...?start=101&title=x
func PageURLs(base, title string, results int) ([]string, error) {
	pages := 1
	if results > 0 {
		pages = (results + PerPage - 1) / PerPage
	}

	out := make([]string, 0, pages)
	for p := 0; p < pages; p++ {
		u, err := SearchURL(base, title, p*PerPage+1)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// PrintPageURLs prints PageURLs one per line.
func PrintPageURLs(w io.Writer, base, title string, results int) error {
	urls, err := PageURLs(base, title, results)
	if err != nil {
		return err
	}
	for _, u := range urls {
		if _, err := fmt.Fprintln(w, u); err != nil {
			return err
		}
	}
	return nil
}
