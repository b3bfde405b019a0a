package aws_s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/IliaW/recipe-box/config"
	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	crd "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

var ErrPhotoNotFound = errors.New("photo not found")

type BucketClient interface {
	PhotoKey(recipeID string, ext string) string
	PutPhoto(ctx context.Context, key string, contentType string, data []byte) error
	GetPhoto(ctx context.Context, key string) (*Photo, error)
	DeletePhoto(ctx context.Context, key string) error
}

// Photo is an object opened for reading. The caller closes Body.
type Photo struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

type S3BucketClient struct {
	client *s3.Client
	cfg    *config.S3Config
	log    *slog.Logger
}

func NewS3BucketClient(cfg *config.S3Config, log *slog.Logger) *S3BucketClient {
	log.Info("connecting to s3...")
	ctx := context.Background()

	s3Config, err := awsCfg.LoadDefaultConfig(ctx,
		awsCfg.WithCredentialsProvider(crd.NewStaticCredentialsProvider(cfg.AwsAccessKey, cfg.AwsSecretKey, "")),
		awsCfg.WithRegion(cfg.Region),
		awsCfg.WithBaseEndpoint(cfg.AwsBaseEndpoint))
	if err != nil {
		log.Error("failed to load s3 config.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	// LocalStack does not support `virtual host addressing style` that uses s3 by default.
	// For test purposes use configuration with disabled 'virtual hosted bucket addressing'.
	var s3client *s3.Client
	if cfg.AwsAccessKey == "test" {
		log.Warn("test configuration for s3")
		s3client = s3.NewFromConfig(s3Config, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	} else {
		s3client = s3.NewFromConfig(s3Config)
	}
	log.Info("connected to s3")

	return &S3BucketClient{
		client: s3client,
		cfg:    cfg,
		log:    log,
	}
}

// PhotoKey returns a fresh object key, so a replaced photo never shadows a cached old one.
func (bc *S3BucketClient) PhotoKey(recipeID string, ext string) string {
	return fmt.Sprintf("%s/%s/%s.%s", bc.cfg.KeyPrefix, recipeID, uuid.NewString(), ext)
}

func (bc *S3BucketClient) PutPhoto(ctx context.Context, key string, contentType string, data []byte) error {
	size := int64(len(data))
	_, err := bc.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &bc.cfg.BucketName,
		Key:           &key,
		Body:          bytes.NewReader(data),
		ContentType:   &contentType,
		ContentLength: &size,
	})
	if err != nil {
		bc.log.Error("failed to save photo to s3.", slog.String("key", key), slog.String("err", err.Error()))
		return err
	}
	bc.log.Debug("photo saved to s3.", slog.String("key", key))

	return nil
}

func (bc *S3BucketClient) GetPhoto(ctx context.Context, key string) (*Photo, error) {
	out, err := bc.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bc.cfg.BucketName,
		Key:    &key,
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, ErrPhotoNotFound
		}
		return nil, fmt.Errorf("failed to get photo %s: %w", key, err)
	}

	photo := &Photo{Body: out.Body}
	if out.ContentType != nil {
		photo.ContentType = *out.ContentType
	}
	if out.ContentLength != nil {
		photo.ContentLength = *out.ContentLength
	}
	return photo, nil
}

func (bc *S3BucketClient) DeletePhoto(ctx context.Context, key string) error {
	_, err := bc.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &bc.cfg.BucketName,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("failed to delete photo %s: %w", key, err)
	}
	bc.log.Debug("photo deleted from s3.", slog.String("key", key))

	return nil
}
