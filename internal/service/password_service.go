package service

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"

	"golang.org/x/crypto/argon2"

	"e2ee-relay/internal/domain"
)

type Argon2Params struct {
	// Stored alongside the hash so verification uses the original cost.
	Time    uint32 `json:"t"` // iterations
	Memory  uint32 `json:"m"` // KiB
	Threads uint8  `json:"p"` // parallelism
	KeyLen  uint32 `json:"k"` // bytes
	SaltLen uint32 `json:"s"` // bytes
}

// PasswordHasher derives and verifies argon2id password hashes.
type PasswordHasher struct {
	currentVer int
	cur        Argon2Params
	algoName   string
}

func NewPasswordHasherArgon2id() *PasswordHasher {
	return &PasswordHasher{
		currentVer: 1,
		algoName:   "argon2id",
		cur: Argon2Params{
			Time:    3,
			Memory:  64 * 1024, // 64 MiB
			Threads: 1,
			KeyLen:  32,
			SaltLen: 16,
		},
	}
}

func (p *PasswordHasher) Hash(password string) (hash, salt, paramsJSON []byte, algo string, ver int, err error) {
	if password == "" {
		return nil, nil, nil, "", 0, ErrEmptyPassword
	}
	salt = make([]byte, p.cur.SaltLen)
	if _, err = rand.Read(salt); err != nil {
		return nil, nil, nil, "", 0, err
	}
	hash = argon2.IDKey([]byte(password), salt, p.cur.Time, p.cur.Memory, p.cur.Threads, p.cur.KeyLen)
	paramsJSON, err = json.Marshal(p.cur)
	if err != nil {
		return nil, nil, nil, "", 0, err
	}
	return hash, salt, paramsJSON, p.algoName, p.currentVer, nil
}

// Verify replays the stored parameters and compares in constant time.
func (p *PasswordHasher) Verify(password string, u *domain.User) bool {
	if u.GetAlgo() != p.algoName {
		return false
	}
	var stored Argon2Params
	if err := json.Unmarshal(u.GetParamsJSON(), &stored); err != nil {
		return false
	}
	calculated := argon2.IDKey([]byte(password), u.GetSalt(), stored.Time, stored.Memory, stored.Threads, stored.KeyLen)
	return subtle.ConstantTimeCompare(calculated, u.GetHash()) == 1
}
