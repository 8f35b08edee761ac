package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/havenmind/crisis-engine/pkg/logging"
)

// ErrNotFound indicates the requested key does not exist.
var ErrNotFound = errors.New("storage: key not found")

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type sealedItem struct {
	Key       string `dynamodbav:"itemKey"`
	Blob      []byte `dynamodbav:"blob"`
	UpdatedAt string `dynamodbav:"updatedAt"`
}

// SealedStore is the opaque put/get contract: values are encrypted before
// they reach DynamoDB and decrypted after retrieval, so the table only ever
// holds ciphertext.
type SealedStore struct {
	client    dynamoAPI
	cipher    *Cipher
	tableName string
	logger    *logging.Logger
}

func NewSealedStore(client dynamoAPI, cipher *Cipher, tableName string, logger *logging.Logger) *SealedStore {
	if client == nil {
		panic("storage: dynamodb client cannot be nil")
	}
	if cipher == nil {
		panic("storage: cipher cannot be nil")
	}
	if tableName == "" {
		panic("storage: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SealedStore{
		client:    client,
		cipher:    cipher,
		tableName: tableName,
		logger:    logger,
	}
}

// Put seals the value and stores it under key.
func (s *SealedStore) Put(ctx context.Context, key string, value []byte) error {
	blob, err := s.cipher.Seal(value)
	if err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(sealedItem{
		Key:       key,
		Blob:      blob,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("storage: marshal item: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}); err != nil {
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	return nil
}

// Get retrieves and opens the blob stored under key.
func (s *SealedStore) Get(ctx context.Context, key string) ([]byte, error) {
	output, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"itemKey": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("storage: get %s: %w", key, err)
	}
	if len(output.Item) == 0 {
		return nil, ErrNotFound
	}
	var item sealedItem
	if err := attributevalue.UnmarshalMap(output.Item, &item); err != nil {
		return nil, fmt.Errorf("storage: unmarshal item: %w", err)
	}
	return s.cipher.Open(item.Blob)
}

// Delete removes the blob stored under key. Missing keys are not an error.
func (s *SealedStore) Delete(ctx context.Context, key string) error {
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"itemKey": &types.AttributeValueMemberS{Value: key},
		},
	}); err != nil {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	return nil
}
