package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/marioluccio/sobreando/internal/core/port"
	"github.com/marioluccio/sobreando/internal/infra/config"
)

var ErrInvalidKey = errors.New("storage: invalid object key")

// New returns the avatar storage backend selected in cfg.
func New(ctx context.Context, cfg config.StorageSettings) (port.AvatarStorage, error) {
	switch cfg.Backend {
	case "local", "":
		return NewLocalStorage(cfg.LocalDir, cfg.PublicURL)
	case "s3":
		return NewS3Storage(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}

// validateKey accepts slash separated keys without empty, dot or dot-dot segments.
func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return ErrInvalidKey
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return ErrInvalidKey
		}
	}
	return nil
}

func joinURL(base, key string) string {
	return strings.TrimSuffix(base, "/") + "/" + key
}
