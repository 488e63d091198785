package codec

import (
	"evledger/utility"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	OffsetParam = "offset"
	LimitParam  = "limit"
	// headers of a paged response besides Link
	TotalCountHeader = "X-Total-Count"
	LimitHeader      = "X-Limit"
)

// BuildPaginationLink returns the URL of the next page while offset+limit < total.
// Query parameters of the request are kept, offset and limit are replaced; baseURL, when set,
// supplies the public scheme and host.
func BuildPaginationLink(requestURL, baseURL string, offset, limit, total int) (string, bool) {
	if limit <= 0 || offset < 0 || offset+limit >= total {
		return "", false
	}
	u, err := url.Parse(requestURL)
	if err != nil {
		return "", false
	}
	if baseURL != "" {
		base, err := url.Parse(baseURL)
		if err != nil || base.Host == "" {
			return "", false
		}
		u.Scheme = base.Scheme
		u.Host = base.Host
		u.User = base.User
		if prefix := strings.TrimSuffix(base.Path, "/"); prefix != "" && !strings.HasPrefix(u.Path, prefix+"/") {
			u.Path = prefix + u.Path
		}
	}
	query := u.Query()
	query.Set(OffsetParam, strconv.Itoa(offset+limit))
	query.Set(LimitParam, strconv.Itoa(limit))
	u.RawQuery = query.Encode()
	u.Fragment = ""
	return u.String(), true
}

func LinkHeader(nextURL string) string {
	return fmt.Sprintf(`<%s>; rel="next"`, nextURL)
}

// ParseNextLink extracts the rel="next" target of a Link header value. Targets are isolated
// by their angle brackets first, so separators inside a URL do not split it.
func ParseNextLink(header string) (string, bool) {
	rest := strings.Join(strings.Fields(header), "")
	for {
		open := strings.IndexByte(rest, '<')
		if open < 0 {
			return "", false
		}
		closing := strings.IndexByte(rest[open:], '>')
		if closing < 0 {
			return "", false
		}
		target := rest[open+1 : open+closing]
		rest = rest[open+closing+1:]
		params := rest
		if next := strings.IndexByte(rest, '<'); next >= 0 {
			params = rest[:next]
		}
		for _, param := range strings.Split(strings.TrimRight(params, ","), ";") {
			if param == `rel="next"` || param == "rel=next" {
				return target, true
			}
		}
	}
}

// ParsePage reads offset and limit query values; missing values take the defaults,
// malformed or negative values are errors
func ParsePage(query url.Values, defaultLimit, maxLimit int) (offset, limit int, err error) {
	limit = defaultLimit
	if s := query.Get(OffsetParam); s != "" {
		if offset, err = utility.ParseInt(s); err != nil || offset < 0 {
			return 0, 0, NewError(StatusInvalidOrMissingParameters, "invalid offset %q", s)
		}
	}
	if s := query.Get(LimitParam); s != "" {
		if limit, err = utility.ParseInt(s); err != nil || limit <= 0 {
			return 0, 0, NewError(StatusInvalidOrMissingParameters, "invalid limit %q", s)
		}
	}
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	return offset, limit, nil
}
