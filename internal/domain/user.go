package domain

import "time"

// User is one registered identity. Username is the sole primary key and is
// case-sensitive. The argon2id parameters are stored alongside the hash so
// verification replays the original cost even after a policy change.
//
// PrivateKey is populated only when key escrow is enabled. The default
// posture is client-side custody: the sealing keypair is generated at
// registration, handed to the caller once, and never retained server-side.
type User struct {
	Username    string
	Algo        string
	Hash        []byte
	Salt        []byte
	ParamsJSON  []byte
	PasswordVer int
	PublicKey   []byte
	PrivateKey  []byte
	CreatedAt   time.Time
}

func (u *User) GetAlgo() string       { return u.Algo }
func (u *User) GetHash() []byte       { return u.Hash }
func (u *User) GetSalt() []byte       { return u.Salt }
func (u *User) GetParamsJSON() []byte { return u.ParamsJSON }
func (u *User) GetPasswordVer() int   { return u.PasswordVer }
