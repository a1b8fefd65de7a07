package dto

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse is shared by register and login. PrivateKeyMaterial is set on
// register (so the caller can take custody of the sealing key) and on login
// only when the relay runs with key escrow enabled.
type AuthResponse struct {
	Token              string `json:"token"`
	Username           string `json:"username"`
	PublicKey          []byte `json:"publicKey"`
	PrivateKeyMaterial []byte `json:"privateKeyMaterial,omitempty"`
}
