// Package idempotency decides how a schedule request carrying a client
// supplied idempotency key is answered.
package idempotency

import (
	"errors"
	"strings"
	"unicode"

	"safety-scheduler/internal/store"
)

// Header is the request header clients put the key in.
const Header = "Idempotency-Key"

const MaxKeyLength = 128

var ErrInvalidKey = errors.New("invalid idempotency key")

// Normalize trims raw and checks it is usable as a key. An empty result
// means the request carried no key.
func Normalize(raw string) (string, error) {
	key := strings.TrimSpace(raw)
	if len(key) > MaxKeyLength {
		return "", ErrInvalidKey
	}
	for _, r := range key {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return "", ErrInvalidKey
		}
	}
	return key, nil
}

type Decision int

const (
	// Created means a new job was scheduled under the key.
	Created Decision = iota
	// Duplicate means the key already named a job; answer with that job.
	Duplicate
	Failed
)

func (d Decision) String() string {
	switch d {
	case Created:
		return "created"
	case Duplicate:
		return "duplicate"
	default:
		return "failed"
	}
}

// Decide classifies the result of a keyed schedule call.
func Decide(jobID string, err error) Decision {
	if err == nil {
		return Created
	}
	if errors.Is(err, store.ErrAlreadyExists) && jobID != "" {
		return Duplicate
	}
	return Failed
}
