package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Aman-CERP/docsearch/internal/config"
)

// New builds the backend selected by cfg.
func New(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (Backend, error) {
	switch strings.ToLower(cfg.Type) {
	case config.StorageFS, "":
		return NewFS(cfg.Path), nil
	case config.StorageBolt:
		return NewBolt(cfg.Path), nil
	case config.StorageMemory:
		return NewMemory(), nil
	case config.StorageRemote:
		c, err := ParseCompression(cfg.Remote.Compression)
		if err != nil {
			return nil, err
		}
		store, err := NewMinioStore(ctx, MinioConfig{
			Endpoint:  cfg.Remote.Endpoint,
			Bucket:    cfg.Remote.Bucket,
			AccessKey: cfg.Remote.AccessKey,
			SecretKey: cfg.Remote.SecretKey,
			Region:    cfg.Remote.Region,
			UseSSL:    cfg.Remote.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		return NewRemote(store, cfg.Remote.CacheDir, cfg.Remote.Prefix, c, WithLogger(logger)), nil
	}
	return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
}
