package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"sitegen-agent/internal/domain"
)

func pendingRequest() *domain.BuildRequest {
	return &domain.BuildRequest{
		ID:        "b-1",
		UserID:    "5511999990000",
		Prompt:    "um site para barbearia",
		Status:    domain.BuildPending,
		DedupeKey: "wamid.42",
	}
}

func TestCreateBuild_WritesBuildAndDedupeLock(t *testing.T) {
	var captured *dynamodb.TransactWriteItemsInput
	api := &fakeDynamo{
		transactWrite: func(in *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
			captured = in
			return &dynamodb.TransactWriteItemsOutput{}, nil
		},
	}
	c := mustClient(t, api)

	req, created, err := c.CreateBuild(context.Background(), pendingRequest())
	require.NoError(t, err)
	require.True(t, created)
	require.False(t, req.CreatedAt.IsZero())

	require.Len(t, captured.TransactItems, 2)
	buildPut := captured.TransactItems[0].Put
	require.Equal(t, "BUILD#b-1", keyPK(buildPut.Item))
	require.Equal(t, "attribute_not_exists(PK)", *buildPut.ConditionExpression)

	lockPut := captured.TransactItems[1].Put
	require.Equal(t, "DEDUPE#wamid.42", keyPK(lockPut.Item))
	require.Equal(t, "attribute_not_exists(PK)", *lockPut.ConditionExpression)
	lockBuild, err := strAttr(lockPut.Item, "buildId")
	require.NoError(t, err)
	require.Equal(t, "b-1", lockBuild)
}

func TestCreateBuild_WithSlotAddsMirror(t *testing.T) {
	var captured *dynamodb.TransactWriteItemsInput
	api := &fakeDynamo{
		transactWrite: func(in *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
			captured = in
			return &dynamodb.TransactWriteItemsOutput{}, nil
		},
	}
	c := mustClient(t, api)

	req := pendingRequest()
	req.HostingSlotID = "prj_1"
	_, _, err := c.CreateBuild(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, captured.TransactItems, 3)
	require.Equal(t, "SLOT#prj_1", keyPK(captured.TransactItems[2].Put.Item))
}

func TestCreateBuild_DedupeConflictReturnsWinner(t *testing.T) {
	winner := pendingRequest()
	winner.ID = "b-0"
	winner.CreatedAt = time.Now().UTC()
	winner.UpdatedAt = winner.CreatedAt

	api := &fakeDynamo{
		transactWrite: func(*dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
			return nil, &types.TransactionCanceledException{
				CancellationReasons: []types.CancellationReason{
					{Code: aws.String("None")},
					{Code: aws.String("ConditionalCheckFailed")},
				},
			}
		},
		getItem: func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			switch keyPK(in.Key) {
			case "DEDUPE#wamid.42":
				return &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
					"buildId": s("b-0"),
				}}, nil
			case "BUILD#b-0":
				return &dynamodb.GetItemOutput{Item: buildItem(winner)}, nil
			}
			return nil, errors.New("unexpected key")
		},
	}
	c := mustClient(t, api)

	req, created, err := c.CreateBuild(context.Background(), pendingRequest())
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "b-0", req.ID)
}

func TestCreateBuild_RequiresIDAndDedupeKey(t *testing.T) {
	c := mustClient(t, &fakeDynamo{})
	_, _, err := c.CreateBuild(context.Background(), &domain.BuildRequest{ID: "b-1"})
	require.Error(t, err)
}

func TestClaimPending_Claims(t *testing.T) {
	claimed := pendingRequest()
	claimed.Status = domain.BuildProcessing
	claimed.Attempts = 1
	claimed.CreatedAt = time.Now().UTC()
	claimed.UpdatedAt = claimed.CreatedAt

	var captured *dynamodb.UpdateItemInput
	api := &fakeDynamo{
		updateItem: func(in *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			captured = in
			return &dynamodb.UpdateItemOutput{Attributes: buildItem(claimed)}, nil
		},
	}
	c := mustClient(t, api)

	req, ok, err := c.ClaimPending(context.Background(), "b-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.BuildProcessing, req.Status)
	require.Equal(t, 1, req.Attempts)

	require.Equal(t, "#st = :pending", *captured.ConditionExpression)
	require.Contains(t, *captured.UpdateExpression, "attempts = attempts + :one")
}

func TestClaimPending_LostRaceIsNotAnError(t *testing.T) {
	api := &fakeDynamo{
		updateItem: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{}
		},
	}
	c := mustClient(t, api)

	req, ok, err := c.ClaimPending(context.Background(), "b-1")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, req)
}

func TestMarkCompleted_UpdatesMirrorAndSlotPointer(t *testing.T) {
	record := pendingRequest()
	record.Status = domain.BuildCompleted
	record.HostingSlotID = "prj_1"
	record.CreatedAt = time.Now().UTC()
	record.UpdatedAt = record.CreatedAt

	var puts []*dynamodb.PutItemInput
	api := &fakeDynamo{
		updateItem: func(in *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			require.Equal(t, "BUILD#b-1", keyPK(in.Key))
			return &dynamodb.UpdateItemOutput{Attributes: buildItem(record)}, nil
		},
		putItem: func(in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			puts = append(puts, in)
			return &dynamodb.PutItemOutput{}, nil
		},
	}
	c := mustClient(t, api)

	err := c.MarkCompleted(context.Background(), "b-1", "https://site-x.vercel.app", "prj_1", "https://cdn/t.jpg")
	require.NoError(t, err)
	require.Len(t, puts, 2)
	require.Equal(t, "SLOT#prj_1", keyPK(puts[0].Item))
	require.Equal(t, "USER#5511999990000", keyPK(puts[1].Item))
	slot, err := strAttr(puts[1].Item, "slotId")
	require.NoError(t, err)
	require.Equal(t, "prj_1", slot)
}

func TestMarkFailed_RejectsNonFailureStatus(t *testing.T) {
	c := mustClient(t, &fakeDynamo{})
	err := c.MarkFailed(context.Background(), "b-1", domain.BuildCompleted, "boom", 1)
	require.Error(t, err)
}

func TestMarkFailed_PersistsErrorAndAttempts(t *testing.T) {
	record := pendingRequest()
	record.Status = domain.BuildTimeout
	record.CreatedAt = time.Now().UTC()
	record.UpdatedAt = record.CreatedAt

	var captured *dynamodb.UpdateItemInput
	api := &fakeDynamo{
		updateItem: func(in *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			captured = in
			return &dynamodb.UpdateItemOutput{Attributes: buildItem(record)}, nil
		},
	}
	c := mustClient(t, api)

	err := c.MarkFailed(context.Background(), "b-1", domain.BuildTimeout, "context deadline exceeded", 3)
	require.NoError(t, err)

	st, ok := captured.ExpressionAttributeValues[":status"].(*types.AttributeValueMemberS)
	require.True(t, ok)
	require.Equal(t, "timeout", st.Value)
	attempts, ok := captured.ExpressionAttributeValues[":attempts"].(*types.AttributeValueMemberN)
	require.True(t, ok)
	require.Equal(t, "3", attempts.Value)
}

func TestUserSlot_MissingPointerIsEmpty(t *testing.T) {
	api := &fakeDynamo{
		getItem: func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			sk, _ := strAttr(in.Key, "SK")
			require.Equal(t, skSlot, sk)
			return &dynamodb.GetItemOutput{}, nil
		},
	}
	c := mustClient(t, api)

	slot, err := c.UserSlot(context.Background(), "u")
	require.NoError(t, err)
	require.Empty(t, slot)
}

func TestStaleCompleted_Paginates(t *testing.T) {
	first := pendingRequest()
	first.Status = domain.BuildCompleted
	first.CreatedAt = time.Now().UTC()
	first.UpdatedAt = first.CreatedAt
	second := pendingRequest()
	second.ID = "b-2"
	second.Status = domain.BuildCompleted
	second.CreatedAt = first.CreatedAt
	second.UpdatedAt = first.CreatedAt

	calls := 0
	api := &fakeDynamo{
		scan: func(in *dynamodb.ScanInput) (*dynamodb.ScanOutput, error) {
			calls++
			if calls == 1 {
				require.Nil(t, in.ExclusiveStartKey)
				return &dynamodb.ScanOutput{
					Items:            []map[string]types.AttributeValue{buildItem(first)},
					LastEvaluatedKey: map[string]types.AttributeValue{"PK": s("BUILD#b-1")},
				}, nil
			}
			require.NotNil(t, in.ExclusiveStartKey)
			return &dynamodb.ScanOutput{
				Items: []map[string]types.AttributeValue{buildItem(second)},
			}, nil
		},
	}
	c := mustClient(t, api)

	stale, err := c.StaleCompleted(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, stale, 2)
	require.Equal(t, "b-1", stale[0].ID)
	require.Equal(t, "b-2", stale[1].ID)
	require.Equal(t, 2, calls)
}

func TestSlotHasActive(t *testing.T) {
	mirror := func(buildID, status string) map[string]types.AttributeValue {
		return map[string]types.AttributeValue{
			"PK":     s("SLOT#prj_1"),
			"SK":     s("BUILD#" + buildID),
			"status": s(status),
		}
	}

	cases := []struct {
		name  string
		items []map[string]types.AttributeValue
		want  bool
	}{
		{name: "only excluded build", items: []map[string]types.AttributeValue{mirror("b-1", "completed")}, want: false},
		{name: "terminal sibling", items: []map[string]types.AttributeValue{mirror("b-2", "failed")}, want: false},
		{name: "processing sibling", items: []map[string]types.AttributeValue{mirror("b-2", "processing")}, want: true},
		{name: "pending sibling", items: []map[string]types.AttributeValue{mirror("b-2", "pending")}, want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeDynamo{
				query: func(in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
					return &dynamodb.QueryOutput{Items: tc.items}, nil
				},
			}
			c := mustClient(t, api)
			active, err := c.SlotHasActive(context.Background(), "prj_1", "b-1")
			require.NoError(t, err)
			require.Equal(t, tc.want, active)
		})
	}
}

func TestExpireBuild_UpdatesMirror(t *testing.T) {
	record := pendingRequest()
	record.Status = domain.BuildExpired
	record.HostingSlotID = "prj_1"
	record.CreatedAt = time.Now().UTC()
	record.UpdatedAt = record.CreatedAt

	var puts []*dynamodb.PutItemInput
	api := &fakeDynamo{
		updateItem: func(in *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			return &dynamodb.UpdateItemOutput{Attributes: buildItem(record)}, nil
		},
		putItem: func(in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			puts = append(puts, in)
			return &dynamodb.PutItemOutput{}, nil
		},
	}
	c := mustClient(t, api)

	require.NoError(t, c.ExpireBuild(context.Background(), "b-1"))
	require.Len(t, puts, 1)
	require.Equal(t, "SLOT#prj_1", keyPK(puts[0].Item))
	status, err := strAttr(puts[0].Item, "status")
	require.NoError(t, err)
	require.Equal(t, "expired", status)
}
