package docstore

import "github.com/pkg/errors"

var (
	ErrNotFound     = errors.New("docstore: document not found")
	ErrSecretNotFound = errors.New("docstore: document secret not found")
)
