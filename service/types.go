package service

// ErrRes error return parameters
type ErrRes struct {
	ErrStr string `json:"err_str"` //Error message
}
