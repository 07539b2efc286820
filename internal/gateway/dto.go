package gateway

// IndexOut is the REST response type for /api/indices?id=...
type IndexOut struct {
	ID    string  `json:"id"`
	Price float64 `json:"price"`
}

// ErrorOut is the body of every REST error response.
type ErrorOut struct {
	Error string `json:"error"`
}
