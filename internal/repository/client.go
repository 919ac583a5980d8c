package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Single-table layout:
//
//	Session:       PK=USER#<phone>    SK=SESSION
//	User slot ptr: PK=USER#<phone>    SK=SLOT
//	BuildRequest:  PK=BUILD#<id>      SK=META
//	Dedupe lock:   PK=DEDUPE#<msgId>  SK=LOCK
//	Slot mirror:   PK=SLOT#<slotId>   SK=BUILD#<buildId>
//	Thumb record:  PK=THUMB#<urlKey>  SK=META
const (
	skSession = "SESSION"
	skSlot    = "SLOT"
	skMeta    = "META"
	skLock    = "LOCK"

	pkPrefixUser   = "USER#"
	pkPrefixBuild  = "BUILD#"
	pkPrefixDedupe = "DEDUPE#"
	pkPrefixSlot   = "SLOT#"
	pkPrefixThumb  = "THUMB#"
	skPrefixBuild  = "BUILD#"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps one DynamoDB table holding sessions, build requests and their
// coordination records.
type Client struct {
	api       dynamodbAPI
	tableName string
}

func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

func userPK(userID string) string  { return pkPrefixUser + userID }
func buildPK(id string) string     { return pkPrefixBuild + id }
func dedupePK(key string) string   { return pkPrefixDedupe + key }
func slotPK(slotID string) string  { return pkPrefixSlot + slotID }
func slotSK(buildID string) string { return skPrefixBuild + buildID }

// thumbPK derives the thumbnail record key from the deployed URL.
func thumbPK(url string) string {
	sum := sha256.Sum256([]byte(url))
	return pkPrefixThumb + hex.EncodeToString(sum[:12])
}

func timeValue(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// isConditionalCheckFailed covers both plain conditional writes and
// transactional ones, where the condition failure arrives wrapped in a
// cancellation.
func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, reason := range tce.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				return true
			}
		}
	}
	return false
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func optStrAttr(item map[string]types.AttributeValue, key string) string {
	s, _ := strAttr(item, key)
	return s
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, nil
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func boolAttr(item map[string]types.AttributeValue, key string) bool {
	v, ok := item[key]
	if !ok {
		return false
	}
	b, ok := v.(*types.AttributeValueMemberBOOL)
	if !ok {
		return false
	}
	return b.Value
}

func timeAttr(item map[string]types.AttributeValue, key string) time.Time {
	s := optStrAttr(item, key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
