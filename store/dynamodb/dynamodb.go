// Package dynamodb provides a durable ConversationStore on a single DynamoDB
// table partitioned by thread.
//
// Item layout (PK = THREAD#<id>):
//
//	SK = META#           thread record: state, timestamps, metadata,
//	                     message_count, last_seq, preview
//	SK = MSG#<seq>       one message, zero padded so range scans return
//	                     sequence order
//	SK = ID#<message_id> idempotency marker written transactionally with its
//	                     message; a replayed append trips its condition
//
// Appends run as a TransactWriteItems batch conditioned on the meta record's
// last_seq, which gives all-or-nothing writes and detects concurrent
// mutation. Deletes tombstone the meta record first (readers immediately see
// NotFound) and then reap the partition.
package dynamodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/threadmesh/threadmesh/core"
	"github.com/threadmesh/threadmesh/logging"
)

const (
	skMeta       = "META#"
	skMsgPrefix  = "MSG#"
	skIDPrefix   = "ID#"
	createTries  = 3
	appendTries  = 3
	reapPageSize = 100
)

// api is the minimal DynamoDB surface required by Store. Defined here for
// testability.
type api interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Options configure the DynamoDB store.
type Options struct {
	Logger logging.Logger
}

// Store is a ConversationStore backed by one DynamoDB table.
type Store struct {
	api       api
	tableName string
	logger    logging.Logger
}

// NewStore creates a Store for the given table.
func NewStore(client api, tableName string, optFns ...func(o *Options)) (*Store, error) {
	if client == nil {
		return nil, errors.New("dynamodb store: client must not be nil")
	}
	if tableName == "" {
		return nil, errors.New("dynamodb store: table name must not be empty")
	}
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Store{api: client, tableName: tableName, logger: opts.Logger}, nil
}

func threadPK(threadID string) string { return "THREAD#" + threadID }

// msgSK zero pads the sequence so lexicographic SK order equals numeric order.
func msgSK(seq int64) string { return fmt.Sprintf("%s%020d", skMsgPrefix, seq) }

// CreateThread writes the meta record with a fresh identifier, regenerating
// on the unlikely collision.
func (s *Store) CreateThread(ctx context.Context, metadata map[string]string) (core.Thread, error) {
	for i := 0; i < createTries; i++ {
		th := core.NewThread(metadata)
		_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.tableName),
			Item:                metaItem(th, 0),
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		})
		if err == nil {
			return th, nil
		}
		if isConditionalCheckFailed(err) {
			s.logger.Warn("store.thread.id_collision", "thread_id", th.ID)
			continue
		}
		return core.Thread{}, fmt.Errorf("dynamodb store: create thread: %w", err)
	}
	return core.Thread{}, fmt.Errorf("thread id generation kept colliding: %w", core.ErrConflict)
}

// GetThread reads the meta record with a consistent read.
func (s *Store) GetThread(ctx context.Context, threadID string) (core.Thread, error) {
	th, _, err := s.getMeta(ctx, threadID)
	return th, err
}

func (s *Store) getMeta(ctx context.Context, threadID string) (core.Thread, int64, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: threadPK(threadID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return core.Thread{}, 0, fmt.Errorf("dynamodb store: get thread: %w", err)
	}
	if len(out.Item) == 0 {
		return core.Thread{}, 0, fmt.Errorf("thread %s: %w", threadID, core.ErrNotFound)
	}
	th, lastSeq, err := itemToThread(out.Item)
	if err != nil {
		return core.Thread{}, 0, fmt.Errorf("dynamodb store: decode thread: %w", err)
	}
	if th.State == core.ThreadDeleted {
		return core.Thread{}, 0, fmt.Errorf("thread %s: %w", threadID, core.ErrNotFound)
	}
	return th, lastSeq, nil
}

// DeleteThread tombstones the meta record and then reaps the partition. The
// tombstone makes deletion visible atomically; the reap is best effort, a
// failed reap only leaves orphaned items behind an already hidden thread.
func (s *Store) DeleteThread(ctx context.Context, threadID string) error {
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: threadPK(threadID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		UpdateExpression:    aws.String("SET thread_state = :deleted, updated_at = :now"),
		ConditionExpression: aws.String("attribute_exists(PK) AND thread_state = :active"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":deleted": &types.AttributeValueMemberS{Value: string(core.ThreadDeleted)},
			":active":  &types.AttributeValueMemberS{Value: string(core.ThreadActive)},
			":now":     &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return fmt.Errorf("thread %s: %w", threadID, core.ErrNotFound)
		}
		return fmt.Errorf("dynamodb store: delete thread: %w", err)
	}
	if err := s.reapPartition(ctx, threadID); err != nil {
		// Tombstone already hides the thread; log and move on.
		s.logger.Error("store.thread.reap_failed", "thread_id", threadID, "error", err.Error())
	}
	return nil
}

// reapPartition deletes every message and marker item of a tombstoned thread.
func (s *Store) reapPartition(ctx context.Context, threadID string) error {
	pk := threadPK(threadID)
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: pk},
			},
			ProjectionExpression: aws.String("PK, SK"),
			Limit:                aws.Int32(reapPageSize),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return fmt.Errorf("reap query: %w", err)
		}
		for _, item := range out.Items {
			sk, _ := strAttr(item, "SK")
			if sk == skMeta {
				continue // keep the tombstone
			}
			if _, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(s.tableName),
				Key: map[string]types.AttributeValue{
					"PK": &types.AttributeValueMemberS{Value: pk},
					"SK": &types.AttributeValueMemberS{Value: sk},
				},
			}); err != nil {
				return fmt.Errorf("reap delete %s: %w", sk, err)
			}
		}
		if out.LastEvaluatedKey == nil {
			return nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// AppendMessages writes the batch in one transaction conditioned on the meta
// record's last_seq. Already stored message IDs are skipped, so a retried
// append converges on the same state; concurrent appends against the same
// last_seq are retried and eventually surface core.ErrConflict.
func (s *Store) AppendMessages(ctx context.Context, threadID string, msgs []core.Message) ([]core.Message, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	var lastErr error
	for attempt := 0; attempt < appendTries; attempt++ {
		_, lastSeq, err := s.getMeta(ctx, threadID)
		if err != nil {
			return nil, err
		}

		out := make([]core.Message, len(msgs))
		var fresh []int // indexes still to be written
		for i, msg := range msgs {
			seq, dup, err := s.markerSequence(ctx, threadID, msg.ID)
			if err != nil {
				return nil, err
			}
			if dup {
				msg.ThreadID = threadID
				msg.Sequence = seq
				out[i] = msg
				continue
			}
			fresh = append(fresh, i)
		}
		if len(fresh) == 0 {
			return out, nil // full replay
		}

		seq := lastSeq
		items := make([]types.TransactWriteItem, 0, 2*len(fresh)+1)
		for _, i := range fresh {
			seq++
			msg := msgs[i]
			msg.ThreadID = threadID
			msg.Sequence = seq
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now().UTC()
			}
			out[i] = msg
			items = append(items,
				types.TransactWriteItem{Put: &types.Put{
					TableName:           aws.String(s.tableName),
					Item:                messageItem(msg),
					ConditionExpression: aws.String("attribute_not_exists(SK)"),
				}},
				types.TransactWriteItem{Put: &types.Put{
					TableName:           aws.String(s.tableName),
					Item:                markerItem(threadID, msg.ID, seq),
					ConditionExpression: aws.String("attribute_not_exists(SK)"),
				}},
			)
		}

		last := out[len(out)-1]
		items = append(items, types.TransactWriteItem{Update: &types.Update{
			TableName: aws.String(s.tableName),
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: threadPK(threadID)},
				"SK": &types.AttributeValueMemberS{Value: skMeta},
			},
			UpdateExpression: aws.String(
				"SET last_seq = :seq, message_count = message_count + :n, preview = :preview, updated_at = :now"),
			ConditionExpression: aws.String("last_seq = :base AND thread_state = :active"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":seq":     &types.AttributeValueMemberN{Value: strconv.FormatInt(seq, 10)},
				":base":    &types.AttributeValueMemberN{Value: strconv.FormatInt(lastSeq, 10)},
				":n":       &types.AttributeValueMemberN{Value: strconv.Itoa(len(fresh))},
				":preview": &types.AttributeValueMemberS{Value: core.Preview(last.Content)},
				":now":     &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
				":active":  &types.AttributeValueMemberS{Value: string(core.ThreadActive)},
			},
		}})

		_, err = s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
		if err == nil {
			s.logger.Debug("store.append.ok",
				"thread_id", threadID, "count", len(fresh), "last_seq", seq)
			return out, nil
		}
		if isTransactionCanceled(err) {
			// Lost a race on last_seq or the thread was deleted mid-flight;
			// re-read and try again.
			s.logger.Warn("store.append.conflict", "thread_id", threadID, "attempt", attempt+1)
			lastErr = err
			continue
		}
		return nil, fmt.Errorf("dynamodb store: append messages: %w", err)
	}
	return nil, fmt.Errorf("append lost %d races on thread %s: %w (%v)", appendTries, threadID, core.ErrConflict, lastErr)
}

// markerSequence reports whether a message ID was already appended and, if
// so, the sequence it was assigned.
func (s *Store) markerSequence(ctx context.Context, threadID, messageID string) (int64, bool, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: threadPK(threadID)},
			"SK": &types.AttributeValueMemberS{Value: skIDPrefix + messageID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, false, fmt.Errorf("dynamodb store: marker read: %w", err)
	}
	if len(out.Item) == 0 {
		return 0, false, nil
	}
	seq, err := intAttr(out.Item, "sequence")
	if err != nil {
		return 0, false, fmt.Errorf("dynamodb store: marker decode: %w", err)
	}
	return seq, true, nil
}

// ListMessages range scans the partition above the cursor, following
// pagination until exhausted.
func (s *Store) ListMessages(ctx context.Context, threadID string, since int64) ([]core.Message, error) {
	if _, _, err := s.getMeta(ctx, threadID); err != nil {
		return nil, err
	}

	var msgs []core.Message
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND SK > :cursor"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: threadPK(threadID)},
				":cursor": &types.AttributeValueMemberS{Value: msgSK(since)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("dynamodb store: list messages: %w", err)
		}
		for _, item := range out.Items {
			msg, err := itemToMessage(item)
			if err != nil {
				return nil, fmt.Errorf("dynamodb store: decode message: %w", err)
			}
			msgs = append(msgs, msg)
		}
		if out.LastEvaluatedKey == nil {
			return msgs, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// ---------------------------------------------------------------------------
// Item marshaling
// ---------------------------------------------------------------------------

func metaItem(th core.Thread, lastSeq int64) map[string]types.AttributeValue {
	metadata := make(map[string]types.AttributeValue, len(th.Metadata))
	for k, v := range th.Metadata {
		metadata[k] = &types.AttributeValueMemberS{Value: v}
	}
	return map[string]types.AttributeValue{
		"PK":            &types.AttributeValueMemberS{Value: threadPK(th.ID)},
		"SK":            &types.AttributeValueMemberS{Value: skMeta},
		"thread_id":     &types.AttributeValueMemberS{Value: th.ID},
		"thread_state":  &types.AttributeValueMemberS{Value: string(th.State)},
		"created_at":    &types.AttributeValueMemberS{Value: th.Created.Format(time.RFC3339Nano)},
		"updated_at":    &types.AttributeValueMemberS{Value: th.Updated.Format(time.RFC3339Nano)},
		"metadata":      &types.AttributeValueMemberM{Value: metadata},
		"message_count": &types.AttributeValueMemberN{Value: strconv.Itoa(th.MessageCount)},
		"last_seq":      &types.AttributeValueMemberN{Value: strconv.FormatInt(lastSeq, 10)},
		"preview":       &types.AttributeValueMemberS{Value: th.LastMessagePreview},
	}
}

func messageItem(msg core.Message) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: threadPK(msg.ThreadID)},
		"SK":         &types.AttributeValueMemberS{Value: msgSK(msg.Sequence)},
		"message_id": &types.AttributeValueMemberS{Value: msg.ID},
		"thread_id":  &types.AttributeValueMemberS{Value: msg.ThreadID},
		"msg_role":   &types.AttributeValueMemberS{Value: string(msg.Role)},
		"content":    &types.AttributeValueMemberS{Value: msg.Content},
		"sequence":   &types.AttributeValueMemberN{Value: strconv.FormatInt(msg.Sequence, 10)},
		"ts":         &types.AttributeValueMemberS{Value: msg.Timestamp.Format(time.RFC3339Nano)},
	}
	if len(msg.ToolCalls) > 0 {
		if raw, err := json.Marshal(msg.ToolCalls); err == nil {
			item["tool_calls"] = &types.AttributeValueMemberS{Value: string(raw)}
		}
	}
	return item
}

func markerItem(threadID, messageID string, seq int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":       &types.AttributeValueMemberS{Value: threadPK(threadID)},
		"SK":       &types.AttributeValueMemberS{Value: skIDPrefix + messageID},
		"sequence": &types.AttributeValueMemberN{Value: strconv.FormatInt(seq, 10)},
	}
}

func itemToThread(item map[string]types.AttributeValue) (core.Thread, int64, error) {
	id, err := strAttr(item, "thread_id")
	if err != nil {
		return core.Thread{}, 0, err
	}
	state, err := strAttr(item, "thread_state")
	if err != nil {
		return core.Thread{}, 0, err
	}
	created, err := timeAttr(item, "created_at")
	if err != nil {
		return core.Thread{}, 0, err
	}
	updated, err := timeAttr(item, "updated_at")
	if err != nil {
		return core.Thread{}, 0, err
	}
	count, err := intAttr(item, "message_count")
	if err != nil {
		return core.Thread{}, 0, err
	}
	lastSeq, err := intAttr(item, "last_seq")
	if err != nil {
		return core.Thread{}, 0, err
	}
	preview, _ := strAttr(item, "preview") // allow empty

	metadata := map[string]string{}
	if m, ok := item["metadata"].(*types.AttributeValueMemberM); ok {
		for k, v := range m.Value {
			if s, ok := v.(*types.AttributeValueMemberS); ok {
				metadata[k] = s.Value
			}
		}
	}

	return core.Thread{
		ID:                 id,
		State:              core.ThreadState(state),
		Created:            created,
		Updated:            updated,
		Metadata:           metadata,
		MessageCount:       int(count),
		LastMessagePreview: preview,
	}, lastSeq, nil
}

func itemToMessage(item map[string]types.AttributeValue) (core.Message, error) {
	id, err := strAttr(item, "message_id")
	if err != nil {
		return core.Message{}, err
	}
	threadID, err := strAttr(item, "thread_id")
	if err != nil {
		return core.Message{}, err
	}
	role, err := strAttr(item, "msg_role")
	if err != nil {
		return core.Message{}, err
	}
	content, _ := strAttr(item, "content") // may be empty for tool records
	seq, err := intAttr(item, "sequence")
	if err != nil {
		return core.Message{}, err
	}
	ts, err := timeAttr(item, "ts")
	if err != nil {
		return core.Message{}, err
	}

	msg := core.Message{
		ID:        id,
		ThreadID:  threadID,
		Role:      core.Role(role),
		Content:   content,
		Sequence:  seq,
		Timestamp: ts,
	}
	if raw, err := strAttr(item, "tool_calls"); err == nil && raw != "" {
		var calls []core.ToolCallRecord
		if err := json.Unmarshal([]byte(raw), &calls); err != nil {
			return core.Message{}, fmt.Errorf("decode tool_calls: %w", err)
		}
		msg.ToolCalls = calls
	}
	return msg, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	raw, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse attribute %q: %w", key, err)
	}
	return t, nil
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func isTransactionCanceled(err error) bool {
	var tce *types.TransactionCanceledException
	return errors.As(err, &tce)
}
