// Package roomcode generates and validates the short numeric codes that
// identify rooms, and builds the link a sender shares with a receiver.
package roomcode

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
)

const (
	Length = 6

	minCode = 100000
	maxCode = 999999
)

var ErrInvalidCode = errors.New("room code must be exactly 6 digits")

// New returns a random code in [100000, 999999].
func New() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(maxCode-minCode+1))
	if err != nil {
		return "", fmt.Errorf("generating room code: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+minCode), nil
}

func Valid(code string) bool {
	if len(code) != Length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

func Validate(code string) error {
	if !Valid(code) {
		return fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}
	return nil
}

// ReceiverLink encodes the code and the receiver role hint as query
// parameters of base, e.g. https://drop.example?code=482913&mode=receiver.
func ReceiverLink(base, code string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	q := u.Query()
	q.Set("code", code)
	q.Set("mode", "receiver")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseLink extracts the code from a link built by ReceiverLink. A bare
// code is accepted too, so users can paste either.
func ParseLink(link string) (code string, receiver bool, err error) {
	if Valid(link) {
		return link, true, nil
	}
	u, err := url.Parse(link)
	if err != nil {
		return "", false, fmt.Errorf("parsing link: %w", err)
	}
	q := u.Query()
	code = q.Get("code")
	if err := Validate(code); err != nil {
		return "", false, err
	}
	return code, q.Get("mode") == "receiver", nil
}
