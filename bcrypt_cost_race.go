//go:build race

package auth

import "golang.org/x/crypto/bcrypt"

// race builds hash with the library default so suites finish in time
func passwordHashCost() int {
	return bcrypt.DefaultCost
}
