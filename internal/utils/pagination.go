package utils

import "strconv"

const DefaultPageSize = 10

// Pagination is a page-number token scheme: the token is the 1-based page
// number as a string, empty for the first page.
type Pagination struct {
	PageSize  int    `form:"page_size" json:"page_size"`
	PageToken string `form:"page_token" json:"page_token"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token"`
	TotalCount    int32  `json:"total_count"`
}

// Window returns offset and limit for the requested page.
func (p Pagination) Window(defaultSize int) (offset, limit, page int) {
	limit = p.PageSize
	if limit <= 0 {
		limit = defaultSize
	}

	page = 1
	if p.PageToken != "" {
		if n, err := strconv.Atoi(p.PageToken); err == nil && n > 0 {
			page = n
		}
	}

	return (page - 1) * limit, limit, page
}

func NextPage(page, pageSize int, total int64) PageInfo {
	next := ""
	if int64(page*pageSize) < total {
		next = strconv.Itoa(page + 1)
	}
	return PageInfo{NextPageToken: next, TotalCount: int32(total)}
}
