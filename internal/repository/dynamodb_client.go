package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"booking-assistant/internal/domain"
)

const (
	skPrefixTurn = "TURN#"
	skMeta       = "META#"
	ttlDuration  = 30 * 24 * time.Hour // 30-day TTL
	// fixed-width so sort keys order chronologically
	skTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"
	maxTxItems   = 100
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client stores session history in a single DynamoDB table. Each session
// has one META# item holding its state and reset marker, plus one TURN# item
// per conversation turn.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

func turnSK(ts time.Time, seq int) string {
	return fmt.Sprintf("%s%s#%04d", skPrefixTurn, ts.UTC().Format(skTimeLayout), seq)
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

type sessionMeta struct {
	state   domain.SessionState
	resetAt string
}

// LoadSession returns the newest limit turns recorded since the last reset,
// oldest first, together with the session state.
func (c *Client) LoadSession(ctx context.Context, sessionID string, limit int) (domain.Session, error) {
	meta, err := c.getMeta(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}

	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND SK > :from"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":   &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":from": &types.AttributeValueMemberS{Value: skPrefixTurn + meta.resetAt},
		},
		// Read newest first so LIMIT favors the most recent context.
		ScanIndexForward: aws.Bool(false),
		ConsistentRead:   aws.Bool(true),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: LoadSession query: %w", err)
	}

	turns := make([]domain.Turn, 0, len(out.Items))
	for _, item := range out.Items {
		t, err := itemToTurn(item)
		if err != nil {
			return domain.Session{}, fmt.Errorf("repository: LoadSession unmarshal: %w", err)
		}
		turns = append(turns, t)
	}
	// Reverse to chronological order before returning to prompt assembly.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return domain.Session{ID: sessionID, Turns: turns, State: meta.state}, nil
}

func (c *Client) getMeta(ctx context.Context, sessionID string) (sessionMeta, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return sessionMeta{}, fmt.Errorf("repository: get meta: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return sessionMeta{}, nil
	}

	var meta sessionMeta
	meta.resetAt, _ = strAttr(out.Item, "resetAt") // allow empty
	if raw, err := strAttr(out.Item, "state"); err == nil && raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta.state); err != nil {
			return sessionMeta{}, fmt.Errorf("repository: decode state: %w", err)
		}
	}
	return meta, nil
}

// AppendTurns writes the turns of one completed chat turn and the updated
// state in a single transaction.
func (c *Client) AppendTurns(ctx context.Context, sessionID string, turns []domain.Turn, state domain.SessionState) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("repository: AppendTurns: session id is required")
	}
	if len(turns)+1 > maxTxItems {
		return fmt.Errorf("repository: AppendTurns: %d turns exceed one transaction", len(turns))
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("repository: AppendTurns: encode state: %w", err)
	}

	ttl := c.ttlValue()
	items := make([]types.TransactWriteItem, 0, len(turns)+1)
	for i, t := range turns {
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                turnItem(sessionID, t, i, ttl),
				ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
			},
		})
	}
	items = append(items, types.TransactWriteItem{
		Update: &types.Update{
			TableName: aws.String(c.tableName),
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
				"SK": &types.AttributeValueMemberS{Value: skMeta},
			},
			UpdateExpression: aws.String("SET sessionId = :sid, #state = :state, turns = :turns, lastActivity = :la, #ttl = :ttl"),
			ExpressionAttributeNames: map[string]string{
				"#state": "state",
				"#ttl":   "ttl",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":sid":   &types.AttributeValueMemberS{Value: sessionID},
				":state": &types.AttributeValueMemberS{Value: string(stateJSON)},
				":turns": &types.AttributeValueMemberN{Value: strconv.Itoa(state.Turns)},
				":la":    &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339)},
				":ttl":   &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
			},
		},
	})

	if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return fmt.Errorf("repository: AppendTurns: %w", err)
	}
	return nil
}

// ResetSession hides every earlier turn and clears the state. Old items are
// left to expire through the table TTL.
func (c *Client) ResetSession(ctx context.Context, sessionID string) error {
	now := c.now().UTC()
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":           &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			"SK":           &types.AttributeValueMemberS{Value: skMeta},
			"sessionId":    &types.AttributeValueMemberS{Value: sessionID},
			"state":        &types.AttributeValueMemberS{Value: "{}"},
			"turns":        &types.AttributeValueMemberN{Value: "0"},
			"resetAt":      &types.AttributeValueMemberS{Value: now.Format(skTimeLayout)},
			"lastActivity": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			"ttl":          &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: ResetSession: %w", err)
	}
	return nil
}

func turnItem(sessionID string, t domain.Turn, seq int, ttl int64) map[string]types.AttributeValue {
	ts := t.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK":        &types.AttributeValueMemberS{Value: turnSK(ts, seq)},
		"sessionId": &types.AttributeValueMemberS{Value: sessionID},
		"role":      &types.AttributeValueMemberS{Value: string(t.Role)},
		"text":      &types.AttributeValueMemberS{Value: t.Text},
		"timestamp": &types.AttributeValueMemberS{Value: ts.UTC().Format(time.RFC3339Nano)},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}
	if t.Action != "" {
		item["action"] = &types.AttributeValueMemberS{Value: string(t.Action)}
	}
	if len(t.Payload) > 0 {
		item["payload"] = &types.AttributeValueMemberS{Value: string(t.Payload)}
	}
	return item
}

// itemToTurn converts a DynamoDB attribute map to a Turn.
func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Turn{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Turn{}, err
	}
	action, _ := strAttr(item, "action")   // allow empty
	payload, _ := strAttr(item, "payload") // allow empty

	t := domain.Turn{
		Role:   domain.Role(role),
		Text:   text,
		Action: domain.Action(action),
	}
	if payload != "" {
		t.Payload = json.RawMessage(payload)
	}
	if ts, err := strAttr(item, "timestamp"); err == nil {
		t.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return t, nil
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
