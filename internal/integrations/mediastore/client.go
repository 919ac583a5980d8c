package mediastore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// s3API is the minimal S3 interface required by Client.
// *s3.Client from aws-sdk-go-v2 satisfies this interface.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Client persists thumbnail images into a public S3 bucket.
type Client struct {
	api           s3API
	bucket        string
	publicBaseURL string
}

func New(api s3API, bucket, publicBaseURL string) (*Client, error) {
	if api == nil {
		return nil, errors.New("mediastore: api must not be nil")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("mediastore: bucket must not be empty")
	}
	publicBaseURL = strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")
	if publicBaseURL == "" {
		publicBaseURL = fmt.Sprintf("https://%s.s3.amazonaws.com", bucket)
	}
	return &Client{api: api, bucket: bucket, publicBaseURL: publicBaseURL}, nil
}

// PersistThumbnail stores the image under a fresh key and returns its public
// URL.
func (c *Client) PersistThumbnail(ctx context.Context, img []byte) (string, error) {
	if len(img) == 0 {
		return "", errors.New("mediastore: image must not be empty")
	}
	key := "thumbnails/" + uuid.NewString() + ".jpg"

	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(c.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(img),
		ContentType:  aws.String("image/jpeg"),
		CacheControl: aws.String("public, max-age=3600"),
	})
	if err != nil {
		return "", fmt.Errorf("mediastore: put object %q: %w", key, err)
	}
	return c.publicBaseURL + "/" + key, nil
}
