package s3

import (
	"bytes"
	"context"
	"fmt"

	"github.com/GrayCatHQ/graycat-aiserver/pkg/client/s3"
	"github.com/minio/minio-go/v7"
)

// TranscriptRepo archives the assembled text of completed streamed
// completions to S3-compatible storage.
type TranscriptRepo struct {
	StorageS3 *s3.StorageS3
}

func NewTranscriptRepo(storageS3 *s3.StorageS3) *TranscriptRepo {
	return &TranscriptRepo{StorageS3: storageS3}
}

func (r *TranscriptRepo) Upload(ctx context.Context, key string, body []byte) error {
	if r.StorageS3 == nil || r.StorageS3.Client == nil {
		return fmt.Errorf("s3 client not initialized")
	}

	_, err := r.StorageS3.Client.PutObject(
		ctx,
		r.StorageS3.Bucket,
		key,
		bytes.NewReader(body),
		int64(len(body)),
		minio.PutObjectOptions{
			ContentType: "text/plain; charset=utf-8",
		},
	)
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}

	return nil
}
