package schema

import "fmt"

// User is the public record of a ledger user.
type User struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	PublicKey string `json:"publicKey"`
}

// Validate checks that the record can be registered.
func (u *User) Validate() error {
	if u.Name == "" {
		return fmt.Errorf("user name is required")
	}
	if u.PublicKey == "" {
		return fmt.Errorf("public key is required for %s", u.Name)
	}
	return nil
}
