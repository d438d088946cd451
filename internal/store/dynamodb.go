package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ashureev/triadic/internal/domain"
)

const (
	skProfile       = "PROFILE"
	skPrefixSession = "SESSION#"
	// DefaultSnapshotTTL is the table expiry applied to snapshots.
	DefaultSnapshotTTL = 7 * 24 * time.Hour
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoStore keeps users and snapshots in one table keyed by PK/SK.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

var _ Repository = (*DynamoStore)(nil)

// NewDynamo creates a DynamoDB-backed repository.
func NewDynamo(api dynamodbAPI, tableName string, ttl time.Duration) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("store: dynamodb api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("store: dynamodb table name must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &DynamoStore{api: api, tableName: tableName, ttl: ttl, now: time.Now}, nil
}

func userPK(userID string) string {
	return "USER#" + userID
}

func sessionSK(sessionID string) string {
	return skPrefixSession + sessionID
}

func (s *DynamoStore) key(userID, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func unixAttr(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Unix(), 10)}
}

// Ping checks the table is reachable.
func (s *DynamoStore) Ping(ctx context.Context) error {
	if _, err := s.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.tableName)}); err != nil {
		return fmt.Errorf("store: describe table: %w", err)
	}
	return nil
}

// GetUser retrieves a user profile item.
func (s *DynamoStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(userID, skProfile),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}

	u := &domain.User{UserID: userID, Username: stringAttr(out.Item, "username")}
	if u.LastSeenAt, err = timeAttr(out.Item, "last_seen_at"); err != nil {
		return nil, fmt.Errorf("store: decode user: %w", err)
	}
	if u.CreatedAt, err = timeAttr(out.Item, "created_at"); err != nil {
		return nil, fmt.Errorf("store: decode user: %w", err)
	}
	if u.UpdatedAt, err = timeAttr(out.Item, "updated_at"); err != nil {
		return nil, fmt.Errorf("store: decode user: %w", err)
	}
	return u, nil
}

// UpsertUser writes the profile item, keeping the original created_at.
func (s *DynamoStore) UpsertUser(ctx context.Context, user *domain.User) error {
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.tableName),
		Key:              s.key(user.UserID, skProfile),
		UpdateExpression: aws.String("SET username = :u, last_seen_at = :ls, updated_at = :ua, created_at = if_not_exists(created_at, :ca)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":u":  &types.AttributeValueMemberS{Value: user.Username},
			":ls": unixAttr(user.LastSeenAt),
			":ua": unixAttr(user.UpdatedAt),
			":ca": unixAttr(user.CreatedAt),
		},
	})
	if err != nil {
		return fmt.Errorf("store: upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen touches the profile item.
func (s *DynamoStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.tableName),
		Key:              s.key(userID, skProfile),
		UpdateExpression: aws.String("SET last_seen_at = :ls, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ls": unixAttr(lastSeen),
			":ua": unixAttr(s.now()),
		},
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return fmt.Errorf("store: update last_seen: %w", err)
	}
	return nil
}

// GetSession retrieves one snapshot item.
func (s *DynamoStore) GetSession(ctx context.Context, userID, sessionID string) (*domain.SessionRecord, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(userID, sessionSK(sessionID)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("store: get session: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}

	rec := &domain.SessionRecord{
		UserID:      userID,
		SessionID:   sessionID,
		StateJSON:   stringAttr(out.Item, "state_json"),
		ContentHash: stringAttr(out.Item, "content_hash"),
	}
	if rec.CreatedAt, err = timeAttr(out.Item, "created_at"); err != nil {
		return nil, fmt.Errorf("store: decode session: %w", err)
	}
	if rec.UpdatedAt, err = timeAttr(out.Item, "updated_at"); err != nil {
		return nil, fmt.Errorf("store: decode session: %w", err)
	}
	return rec, nil
}

// UpsertSession writes a snapshot with a refreshed expiry.
func (s *DynamoStore) UpsertSession(ctx context.Context, rec *domain.SessionRecord) error {
	now := s.now()
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"PK":           &types.AttributeValueMemberS{Value: userPK(rec.UserID)},
			"SK":           &types.AttributeValueMemberS{Value: sessionSK(rec.SessionID)},
			"state_json":   &types.AttributeValueMemberS{Value: rec.StateJSON},
			"content_hash": &types.AttributeValueMemberS{Value: rec.ContentHash},
			"created_at":   unixAttr(created),
			"updated_at":   unixAttr(now),
			"ttl":          unixAttr(now.Add(s.ttl)),
		},
	})
	if err != nil {
		return fmt.Errorf("store: upsert session: %w", err)
	}
	return nil
}

// DeleteSession removes a snapshot item.
func (s *DynamoStore) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if _, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(userID, sessionSK(sessionID)),
	}); err != nil {
		return fmt.Errorf("store: delete session: %w", err)
	}
	return nil
}

// CleanupExpiredSessions is a no-op; the table's ttl attribute expires snapshots.
func (s *DynamoStore) CleanupExpiredSessions(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

// Close is a no-op for the HTTP-based client.
func (s *DynamoStore) Close() error {
	return nil
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func timeAttr(item map[string]types.AttributeValue, name string) (time.Time, error) {
	v, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return time.Time{}, nil
	}
	n, err := strconv.ParseInt(v.Value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", name, err)
	}
	return time.Unix(n, 0), nil
}
