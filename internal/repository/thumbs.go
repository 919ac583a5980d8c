package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ThumbRecord returns the persisted thumbnail for a deployed URL, if any.
// Freshness is the caller's policy; the record only carries capture time.
func (c *Client) ThumbRecord(ctx context.Context, url string) (string, time.Time, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: thumbPK(url)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
	})
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("repository: ThumbRecord: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return "", time.Time{}, false, nil
	}
	thumbURL := optStrAttr(out.Item, "thumbnailUrl")
	if thumbURL == "" {
		return "", time.Time{}, false, nil
	}
	return thumbURL, timeAttr(out.Item, "capturedAt"), true, nil
}

// PutThumbRecord upserts the thumbnail record for a deployed URL.
func (c *Client) PutThumbRecord(ctx context.Context, url, thumbnailURL string) error {
	if url == "" || thumbnailURL == "" {
		return errors.New("repository: PutThumbRecord: url and thumbnail url required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":           &types.AttributeValueMemberS{Value: thumbPK(url)},
			"SK":           &types.AttributeValueMemberS{Value: skMeta},
			"sourceUrl":    &types.AttributeValueMemberS{Value: url},
			"thumbnailUrl": &types.AttributeValueMemberS{Value: thumbnailURL},
			"capturedAt":   &types.AttributeValueMemberS{Value: timeValue(time.Now())},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: PutThumbRecord: %w", err)
	}
	return nil
}
