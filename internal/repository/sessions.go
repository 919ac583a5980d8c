package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"sitegen-agent/internal/domain"
)

// GetSession returns the stored session for userID, or nil when the user has
// never interacted.
func (c *Client) GetSession(ctx context.Context, userID string) (*domain.Session, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: skSession},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetSession: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	return itemToSession(out.Item)
}

// PutSession upserts the session record.
func (c *Client) PutSession(ctx context.Context, sess *domain.Session) error {
	if sess == nil || sess.UserID == "" {
		return errors.New("repository: PutSession: session with user id required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      sessionItem(sess),
	})
	if err != nil {
		return fmt.Errorf("repository: PutSession: %w", err)
	}
	return nil
}

// DeleteSession removes the session record; deleting a missing session is not
// an error.
func (c *Client) DeleteSession(ctx context.Context, userID string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: skSession},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: DeleteSession: %w", err)
	}
	return nil
}

func sessionItem(sess *domain.Session) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":                  &types.AttributeValueMemberS{Value: userPK(sess.UserID)},
		"SK":                  &types.AttributeValueMemberS{Value: skSession},
		"userId":              &types.AttributeValueMemberS{Value: sess.UserID},
		"step":                &types.AttributeValueMemberS{Value: string(sess.Step)},
		"action":              &types.AttributeValueMemberS{Value: string(sess.Action)},
		"invalidPromptWarned": &types.AttributeValueMemberBOOL{Value: sess.InvalidPromptWarned},
		"lastPrompt":          &types.AttributeValueMemberS{Value: sess.LastPrompt},
		"lastBuildId":         &types.AttributeValueMemberS{Value: sess.LastBuildID},
		"createdAt":           &types.AttributeValueMemberS{Value: timeValue(sess.CreatedAt)},
		"updatedAt":           &types.AttributeValueMemberS{Value: timeValue(sess.UpdatedAt)},
	}
}

func itemToSession(item map[string]types.AttributeValue) (*domain.Session, error) {
	userID, err := strAttr(item, "userId")
	if err != nil {
		return nil, fmt.Errorf("repository: itemToSession: %w", err)
	}
	step, err := strAttr(item, "step")
	if err != nil {
		return nil, fmt.Errorf("repository: itemToSession: %w", err)
	}
	action := optStrAttr(item, "action")
	if action == "" {
		action = string(domain.ActionNone)
	}
	return &domain.Session{
		UserID:              userID,
		Step:                domain.SessionStep(step),
		Action:              domain.SessionAction(action),
		InvalidPromptWarned: boolAttr(item, "invalidPromptWarned"),
		LastPrompt:          optStrAttr(item, "lastPrompt"),
		LastBuildID:         optStrAttr(item, "lastBuildId"),
		CreatedAt:           timeAttr(item, "createdAt"),
		UpdatedAt:           timeAttr(item, "updatedAt"),
	}, nil
}
