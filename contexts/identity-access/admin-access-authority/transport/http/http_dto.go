package http

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PromoteRequest struct {
	Email string `json:"email"`
}

type ActivateRequest struct {
	Email     string `json:"email"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

type DeactivateRequest struct {
	Email string `json:"email"`
}

type BootstrapRequest struct {
	Email string `json:"email"`
}

type GrantDTO struct {
	AdminEmail string `json:"admin_email"`
	Status     string `json:"status"`
	GrantedBy  string `json:"granted_by"`
	GrantedAt  string `json:"granted_at"`
	ExpiresAt  string `json:"expires_at,omitempty"`
}

type GrantResponse struct {
	Status string   `json:"status"`
	Data   GrantDTO `json:"data"`
}

type ListGrantsResponse struct {
	Status string     `json:"status"`
	Data   []GrantDTO `json:"data"`
}
