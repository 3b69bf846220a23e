package application

import (
	"context"
	"fmt"

	"thirdcoast.systems/ytharvest/internal/config"
	"thirdcoast.systems/ytharvest/pkg/blobstore"
)

// Stores are the two blob namespaces a run works against: the append-only
// data logs and the consumer facing results (index snapshots).
type Stores struct {
	Root    blobstore.Store
	Data    blobstore.Store
	Results blobstore.Store
}

func OpenStores(ctx context.Context, conf config.Config) (*Stores, error) {
	var root blobstore.Store
	switch conf.StoreBackend {
	case "fs":
		fs, err := blobstore.NewFS(conf.StoreRoot)
		if err != nil {
			return nil, fmt.Errorf("open fs store: %w", err)
		}
		root = fs
	case "s3":
		s3, err := blobstore.NewS3(ctx, blobstore.S3Options{
			Endpoint:  conf.S3Endpoint,
			AccessKey: conf.S3AccessKey,
			SecretKey: conf.S3SecretKey,
			Bucket:    conf.S3Bucket,
			UseSSL:    conf.S3UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("open s3 store: %w", err)
		}
		root = s3
	default:
		return nil, fmt.Errorf("unknown store backend %q", conf.StoreBackend)
	}

	return &Stores{
		Root:    root,
		Data:    blobstore.WithPrefix(root, conf.DataPrefix),
		Results: blobstore.WithPrefix(root, conf.ResultsPrefix),
	}, nil
}
