package pipe

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"thirdcoast.systems/ytharvest/internal/store"
	"thirdcoast.systems/ytharvest/pkg/blobstore"
)

func batchDir(pipe, runID string, batch int) string {
	return blobstore.Join("pipe", pipe, runID, fmt.Sprintf("%03d", batch))
}

func InputPath(pipe, runID string, batch int) string {
	return blobstore.Join(batchDir(pipe, runID, batch), "in.jsonl.gz")
}

func OutputPath(pipe, runID string, batch int) string {
	return blobstore.Join(batchDir(pipe, runID, batch), "out.json.gz")
}

func saveInput[In any](ctx context.Context, s blobstore.Store, b Batch[In]) error {
	data, err := store.EncodeJSONL(b.Items)
	if err != nil {
		return err
	}
	return s.Save(ctx, InputPath(b.Pipe, b.RunID, b.Index), data)
}

func loadInput[In any](ctx context.Context, s blobstore.Store, pipe, runID string, batch int) ([]In, error) {
	data, err := blobstore.ReadAll(ctx, s, InputPath(pipe, runID, batch))
	if err != nil {
		return nil, err
	}
	return store.DecodeJSONL[In](data)
}

func saveOutput[Out any](ctx context.Context, s blobstore.Store, pipe, runID string, batch int, out Out) error {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(out); err != nil {
		_ = zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return s.Save(ctx, OutputPath(pipe, runID, batch), buf.Bytes())
}

func loadOutput[Out any](ctx context.Context, s blobstore.Store, pipe, runID string, batch int) (Out, error) {
	var out Out
	rc, err := s.Load(ctx, OutputPath(pipe, runID, batch))
	if err != nil {
		return out, fmt.Errorf("load output: %w", err)
	}
	defer rc.Close()

	zr, err := gzip.NewReader(rc)
	if err != nil {
		return out, err
	}
	defer zr.Close()
	if err := json.NewDecoder(zr).Decode(&out); err != nil {
		return out, fmt.Errorf("decode output: %w", err)
	}
	return out, nil
}
