package gallery

import "promptgallery/internal/models"

type RecordPage struct {
	Items   []models.ImageRecord `json:"images"`
	Total   int                  `json:"total"`
	Page    int                  `json:"page"`
	PerPage int                  `json:"per_page"`
	HasNext bool                 `json:"has_next"`
	HasPrev bool                 `json:"has_prev"`
}

// Paginate slices an already ordered list. page is 1-based; values below 1
// are clamped to 1, as is perPage.
func Paginate(recs []models.ImageRecord, page, perPage int) RecordPage {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 1
	}
	total := len(recs)

	// compare before multiplying so huge page values cannot overflow
	start := total
	if page-1 < total/perPage+1 {
		start = min((page-1)*perPage, total)
	}
	end := start + min(perPage, total-start)

	items := make([]models.ImageRecord, end-start)
	copy(items, recs[start:end])
	return RecordPage{
		Items:   items,
		Total:   total,
		Page:    page,
		PerPage: perPage,
		HasNext: end < total,
		HasPrev: page > 1,
	}
}
