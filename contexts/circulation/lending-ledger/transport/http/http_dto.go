package http

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type BorrowRequest struct {
	BookID   string `json:"book_id"`
	PatronID string `json:"patron_id,omitempty"`
}

type BorrowingDTO struct {
	BorrowingID string `json:"borrowing_id"`
	BookID      string `json:"book_id"`
	PatronID    string `json:"patron_id"`
	BorrowedAt  string `json:"borrowed_at"`
	DueAt       string `json:"due_at"`
	ReturnedAt  string `json:"returned_at,omitempty"`
}

type LoanStatusDTO struct {
	BorrowingID string  `json:"borrowing_id"`
	IsOverdue   bool    `json:"is_overdue"`
	DaysOverdue int     `json:"days_overdue"`
	FineAmount  float64 `json:"fine_amount"`
}

type BorrowResponse struct {
	Status string       `json:"status"`
	Data   BorrowingDTO `json:"data"`
}

type ReturnResponse struct {
	Status string `json:"status"`
	Data   struct {
		Borrowing BorrowingDTO  `json:"borrowing"`
		Fine      LoanStatusDTO `json:"fine"`
	} `json:"data"`
}

type LoanStatusResponse struct {
	Status string        `json:"status"`
	Data   LoanStatusDTO `json:"data"`
}

type ListBorrowingsRequest struct {
	BookID   string
	PatronID string
	OpenOnly bool
}

type ListBorrowingsResponse struct {
	Status string         `json:"status"`
	Data   []BorrowingDTO `json:"data"`
}
