package http

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type CreateBookRequest struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	ISBN        string `json:"isbn"`
	TotalCopies int    `json:"total_copies"`
}

type AdjustCopiesRequest struct {
	Delta int `json:"delta"`
}

type BookDTO struct {
	BookID          string `json:"book_id"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	ISBN            string `json:"isbn"`
	TotalCopies     int    `json:"total_copies"`
	AvailableCopies int    `json:"available_copies"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

type BookResponse struct {
	Status string  `json:"status"`
	Data   BookDTO `json:"data"`
}

type ListBooksResponse struct {
	Status string    `json:"status"`
	Data   []BookDTO `json:"data"`
}

type RemoveBookResponse struct {
	Status string `json:"status"`
}
