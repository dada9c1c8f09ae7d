package models

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Offset     int `json:"offset"`
	Limit      int `json:"limit"`
	TotalCount int `json:"total_count"`
}
