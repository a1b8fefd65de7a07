package dto

type UserInfo struct {
	Username  string `json:"username"`
	PublicKey []byte `json:"publicKey"`
	Online    bool   `json:"online"`
}

// ErrorResponse is the body of every non-2xx HTTP response.
type ErrorResponse struct {
	Message string `json:"message"`
}
