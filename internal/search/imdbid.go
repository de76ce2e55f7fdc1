package search

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrNoTitleID is returned when a link carries no title identifier.
var ErrNoTitleID = errors.New("no title id in link")

var reTitleID = regexp.MustCompile(`/title/tt(\d{7,8})(?:[/?#]|$)`)

// TitleID extracts the numeric title identifier from a listing link such as
// "/title/tt0133093/?ref_=adv_li_tt".
func TitleID(link string) (string, error) {
	m := reTitleID.FindStringSubmatch(link)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrNoTitleID, link)
	}
	return m[1], nil
}
