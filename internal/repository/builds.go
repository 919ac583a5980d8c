package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"sitegen-agent/internal/domain"
)

// CreateBuild inserts the build record together with its dedupe lock in one
// transaction. The lock's conditional put is the uniqueness constraint: under
// concurrent duplicate deliveries exactly one transaction commits, and the
// losers are handed the winner's record with created=false.
func (c *Client) CreateBuild(ctx context.Context, req *domain.BuildRequest) (*domain.BuildRequest, bool, error) {
	if req == nil || req.ID == "" || req.DedupeKey == "" {
		return nil, false, errors.New("repository: CreateBuild: id and dedupe key required")
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now
	if req.Status == "" {
		req.Status = domain.BuildPending
	}

	items := []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                buildItem(req),
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			},
		},
		{
			Put: &types.Put{
				TableName: aws.String(c.tableName),
				Item: map[string]types.AttributeValue{
					"PK":      &types.AttributeValueMemberS{Value: dedupePK(req.DedupeKey)},
					"SK":      &types.AttributeValueMemberS{Value: skLock},
					"buildId": &types.AttributeValueMemberS{Value: req.ID},
				},
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			},
		},
	}
	if req.HostingSlotID != "" {
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(c.tableName),
				Item:      slotMirrorItem(req.HostingSlotID, req.ID, req.Status, now),
			},
		})
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err == nil {
		return req, true, nil
	}
	if !isConditionalCheckFailed(err) {
		return nil, false, fmt.Errorf("repository: CreateBuild: %w", err)
	}

	existing, lookupErr := c.buildByDedupeKey(ctx, req.DedupeKey)
	if lookupErr != nil {
		return nil, false, fmt.Errorf("repository: CreateBuild dedupe lookup: %w", lookupErr)
	}
	return existing, false, nil
}

func (c *Client) buildByDedupeKey(ctx context.Context, key string) (*domain.BuildRequest, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: dedupePK(key)},
			"SK": &types.AttributeValueMemberS{Value: skLock},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out == nil || len(out.Item) == 0 {
		return nil, fmt.Errorf("dedupe lock for %q missing after conflict", key)
	}
	buildID, err := strAttr(out.Item, "buildId")
	if err != nil {
		return nil, err
	}
	return c.GetBuild(ctx, buildID)
}

// GetBuild loads one build record.
func (c *Client) GetBuild(ctx context.Context, id string) (*domain.BuildRequest, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: buildPK(id)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetBuild: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, fmt.Errorf("repository: GetBuild: build %q not found", id)
	}
	return itemToBuild(out.Item)
}

// ClaimPending is the at-most-one-active-worker guard: a conditional update
// that only succeeds while the record is still pending. The loser of a race
// observes the condition failure and reports claimed=false.
func (c *Client) ClaimPending(ctx context.Context, id string) (*domain.BuildRequest, bool, error) {
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: buildPK(id)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConditionExpression: aws.String("#st = :pending"),
		UpdateExpression:    aws.String("SET #st = :processing, attempts = attempts + :one, updatedAt = :now"),
		ExpressionAttributeNames: map[string]string{
			"#st": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending":    &types.AttributeValueMemberS{Value: string(domain.BuildPending)},
			":processing": &types.AttributeValueMemberS{Value: string(domain.BuildProcessing)},
			":one":        &types.AttributeValueMemberN{Value: "1"},
			":now":        &types.AttributeValueMemberS{Value: timeValue(time.Now())},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("repository: ClaimPending: %w", err)
	}
	req, err := itemToBuild(out.Attributes)
	if err != nil {
		return nil, false, fmt.Errorf("repository: ClaimPending: %w", err)
	}
	return req, true, nil
}

// MarkCompleted persists the terminal success state and maintains the slot
// mirror and the user's slot pointer used by the edit flow.
func (c *Client) MarkCompleted(ctx context.Context, id, resultURL, slotID, thumbnailURL string) error {
	now := time.Now().UTC()
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: buildPK(id)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		UpdateExpression: aws.String("SET #st = :completed, resultUrl = :url, thumbnailUrl = :thumb, slotId = :slot, updatedAt = :now"),
		ExpressionAttributeNames: map[string]string{
			"#st": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":completed": &types.AttributeValueMemberS{Value: string(domain.BuildCompleted)},
			":url":       &types.AttributeValueMemberS{Value: resultURL},
			":thumb":     &types.AttributeValueMemberS{Value: thumbnailURL},
			":slot":      &types.AttributeValueMemberS{Value: slotID},
			":now":       &types.AttributeValueMemberS{Value: timeValue(now)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return fmt.Errorf("repository: MarkCompleted: %w", err)
	}
	userID := optStrAttr(out.Attributes, "userId")

	if slotID != "" {
		if _, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(c.tableName),
			Item:      slotMirrorItem(slotID, id, domain.BuildCompleted, now),
		}); err != nil {
			return fmt.Errorf("repository: MarkCompleted slot mirror: %w", err)
		}
		if userID != "" {
			if _, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
				TableName: aws.String(c.tableName),
				Item: map[string]types.AttributeValue{
					"PK":        &types.AttributeValueMemberS{Value: userPK(userID)},
					"SK":        &types.AttributeValueMemberS{Value: skSlot},
					"slotId":    &types.AttributeValueMemberS{Value: slotID},
					"resultUrl": &types.AttributeValueMemberS{Value: resultURL},
					"updatedAt": &types.AttributeValueMemberS{Value: timeValue(now)},
				},
			}); err != nil {
				return fmt.Errorf("repository: MarkCompleted slot pointer: %w", err)
			}
		}
	}
	return nil
}

// MarkFailed persists a failure terminal state with the truncated error and
// the attempts spent in the failing phase.
func (c *Client) MarkFailed(ctx context.Context, id string, status domain.BuildStatus, lastError string, attempts int) error {
	if status != domain.BuildFailed && status != domain.BuildTimeout {
		return fmt.Errorf("repository: MarkFailed: %q is not a failure status", status)
	}
	now := time.Now().UTC()
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: buildPK(id)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		UpdateExpression: aws.String("SET #st = :status, lastError = :err, attempts = :attempts, updatedAt = :now"),
		ExpressionAttributeNames: map[string]string{
			"#st": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":   &types.AttributeValueMemberS{Value: string(status)},
			":err":      &types.AttributeValueMemberS{Value: lastError},
			":attempts": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", attempts)},
			":now":      &types.AttributeValueMemberS{Value: timeValue(now)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return fmt.Errorf("repository: MarkFailed: %w", err)
	}
	if slotID := optStrAttr(out.Attributes, "slotId"); slotID != "" {
		if _, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(c.tableName),
			Item:      slotMirrorItem(slotID, id, status, now),
		}); err != nil {
			return fmt.Errorf("repository: MarkFailed slot mirror: %w", err)
		}
	}
	return nil
}

// UserSlot returns the hosting slot of the user's latest completed build, or
// "" when they have none.
func (c *Client) UserSlot(ctx context.Context, userID string) (string, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: skSlot},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("repository: UserSlot: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return "", nil
	}
	return optStrAttr(out.Item, "slotId"), nil
}

// StaleCompleted lists completed builds not updated since cutoff. A table
// scan is acceptable here: the janitor runs hourly and the table stays small
// thanks to expiry.
func (c *Client) StaleCompleted(ctx context.Context, cutoff time.Time) ([]*domain.BuildRequest, error) {
	var stale []*domain.BuildRequest
	var startKey map[string]types.AttributeValue
	for {
		out, err := c.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(c.tableName),
			FilterExpression: aws.String("begins_with(PK, :build) AND SK = :meta AND #st = :completed AND updatedAt < :cutoff"),
			ExpressionAttributeNames: map[string]string{
				"#st": "status",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":build":     &types.AttributeValueMemberS{Value: pkPrefixBuild},
				":meta":      &types.AttributeValueMemberS{Value: skMeta},
				":completed": &types.AttributeValueMemberS{Value: string(domain.BuildCompleted)},
				":cutoff":    &types.AttributeValueMemberS{Value: timeValue(cutoff)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("repository: StaleCompleted: %w", err)
		}
		for _, item := range out.Items {
			req, err := itemToBuild(item)
			if err != nil {
				return nil, fmt.Errorf("repository: StaleCompleted: %w", err)
			}
			stale = append(stale, req)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return stale, nil
}

// SlotHasActive reports whether any build on the slot, other than excludeID,
// is still non-terminal.
func (c *Client) SlotHasActive(ctx context.Context, slotID, excludeID string) (bool, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: slotPK(slotID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixBuild},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("repository: SlotHasActive: %w", err)
	}
	for _, item := range out.Items {
		sk := optStrAttr(item, "SK")
		if strings.TrimPrefix(sk, skPrefixBuild) == excludeID {
			continue
		}
		if !domain.BuildStatus(optStrAttr(item, "status")).Terminal() {
			return true, nil
		}
	}
	return false, nil
}

// ExpireBuild marks a terminal build expired and updates its slot mirror.
func (c *Client) ExpireBuild(ctx context.Context, id string) error {
	now := time.Now().UTC()
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: buildPK(id)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		UpdateExpression: aws.String("SET #st = :expired, updatedAt = :now"),
		ExpressionAttributeNames: map[string]string{
			"#st": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expired": &types.AttributeValueMemberS{Value: string(domain.BuildExpired)},
			":now":     &types.AttributeValueMemberS{Value: timeValue(now)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return fmt.Errorf("repository: ExpireBuild: %w", err)
	}
	if slotID := optStrAttr(out.Attributes, "slotId"); slotID != "" {
		if _, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(c.tableName),
			Item:      slotMirrorItem(slotID, id, domain.BuildExpired, now),
		}); err != nil {
			return fmt.Errorf("repository: ExpireBuild slot mirror: %w", err)
		}
	}
	return nil
}

func slotMirrorItem(slotID, buildID string, status domain.BuildStatus, now time.Time) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: slotPK(slotID)},
		"SK":        &types.AttributeValueMemberS{Value: slotSK(buildID)},
		"status":    &types.AttributeValueMemberS{Value: string(status)},
		"updatedAt": &types.AttributeValueMemberS{Value: timeValue(now)},
	}
}

func buildItem(req *domain.BuildRequest) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: buildPK(req.ID)},
		"SK":           &types.AttributeValueMemberS{Value: skMeta},
		"id":           &types.AttributeValueMemberS{Value: req.ID},
		"userId":       &types.AttributeValueMemberS{Value: req.UserID},
		"prompt":       &types.AttributeValueMemberS{Value: req.Prompt},
		"status":       &types.AttributeValueMemberS{Value: string(req.Status)},
		"dedupeKey":    &types.AttributeValueMemberS{Value: req.DedupeKey},
		"slotId":       &types.AttributeValueMemberS{Value: req.HostingSlotID},
		"resultUrl":    &types.AttributeValueMemberS{Value: req.ResultURL},
		"thumbnailUrl": &types.AttributeValueMemberS{Value: req.ThumbnailURL},
		"attempts":     &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", req.Attempts)},
		"lastError":    &types.AttributeValueMemberS{Value: req.LastError},
		"createdAt":    &types.AttributeValueMemberS{Value: timeValue(req.CreatedAt)},
		"updatedAt":    &types.AttributeValueMemberS{Value: timeValue(req.UpdatedAt)},
	}
}

func itemToBuild(item map[string]types.AttributeValue) (*domain.BuildRequest, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return nil, err
	}
	userID, err := strAttr(item, "userId")
	if err != nil {
		return nil, err
	}
	status, err := strAttr(item, "status")
	if err != nil {
		return nil, err
	}
	attempts, err := intAttr(item, "attempts")
	if err != nil {
		return nil, err
	}
	return &domain.BuildRequest{
		ID:            id,
		UserID:        userID,
		Prompt:        optStrAttr(item, "prompt"),
		Status:        domain.BuildStatus(status),
		DedupeKey:     optStrAttr(item, "dedupeKey"),
		HostingSlotID: optStrAttr(item, "slotId"),
		ResultURL:     optStrAttr(item, "resultUrl"),
		ThumbnailURL:  optStrAttr(item, "thumbnailUrl"),
		Attempts:      attempts,
		LastError:     optStrAttr(item, "lastError"),
		CreatedAt:     timeAttr(item, "createdAt"),
		UpdatedAt:     timeAttr(item, "updatedAt"),
	}, nil
}
