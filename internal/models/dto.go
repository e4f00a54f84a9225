package models

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

type RegisterResponse struct {
	Message string `json:"message"`
	User    string `json:"user"`
}

type ValidateResponse struct {
	Auth     bool    `json:"auth"`
	Distance float64 `json:"distance"`
	Message  string  `json:"message"`
}
