// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package sqs is the production Queue implementation, backed by
// Amazon SQS. Visibility timeout and max-receive/redrive-to-DLQ are
// configured on the queue itself at provisioning time (out of scope
// per spec.md §1); this package is the client that publishes,
// receives, and acknowledges against that contract.
package sqs

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/pkg/errors"

	"github.com/pradok/events-scheduler-sub002/internal/queue"
)

// API is the subset of *sqs.Client this package depends on, so tests
// can substitute a fake without an AWS account.
type API interface {
	SendMessage(ctx context.Context, in *awssqs.SendMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.SendMessageOutput, error)
	SendMessageBatch(ctx context.Context, in *awssqs.SendMessageBatchInput, optFns ...func(*awssqs.Options)) (*awssqs.SendMessageBatchOutput, error)
	ReceiveMessage(ctx context.Context, in *awssqs.ReceiveMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *awssqs.DeleteMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.DeleteMessageOutput, error)
}

// Queue adapts an SQS queue URL to queue.Queue.
type Queue struct {
	client            API
	queueURL          string
	visibilityTimeout int32
	waitTimeSeconds   int32
}

// New constructs a Queue bound to queueURL. visibilityTimeoutSeconds
// should match spec.md §6's queueVisibilityTimeoutSeconds.
func New(client API, queueURL string, visibilityTimeoutSeconds int32) *Queue {
	return &Queue{
		client:            client,
		queueURL:          queueURL,
		visibilityTimeout: visibilityTimeoutSeconds,
		waitTimeSeconds:   5,
	}
}

var _ queue.Queue = (*Queue)(nil)

// Publish implements queue.Queue.
func (q *Queue) Publish(ctx context.Context, d queue.Descriptor) error {
	start := time.Now()
	defer func() { queue.PublishDurations.Observe(time.Since(start).Seconds()) }()

	body, err := json.Marshal(d)
	if err != nil {
		queue.PublishFailures.Inc()
		return errors.Wrap(err, "marshal descriptor")
	}
	_, err = q.client.SendMessage(ctx, &awssqs.SendMessageInput{
		QueueUrl:    &q.queueURL,
		MessageBody: stringPtr(string(body)),
	})
	if err != nil {
		queue.PublishFailures.Inc()
		return errors.Wrap(err, "sqs send message")
	}
	return nil
}

// PublishBatch implements queue.Queue, chunking into SQS's 10-message
// batch limit.
func (q *Queue) PublishBatch(ctx context.Context, ds []queue.Descriptor) error {
	began := time.Now()
	defer func() { queue.PublishDurations.Observe(time.Since(began).Seconds()) }()

	const maxBatch = 10
	for chunkStart := 0; chunkStart < len(ds); chunkStart += maxBatch {
		chunkEnd := chunkStart + maxBatch
		if chunkEnd > len(ds) {
			chunkEnd = len(ds)
		}
		if err := q.publishChunk(ctx, ds[chunkStart:chunkEnd]); err != nil {
			queue.PublishFailures.Add(float64(chunkEnd - chunkStart))
			return err
		}
	}
	return nil
}

func (q *Queue) publishChunk(ctx context.Context, ds []queue.Descriptor) error {
	entries := make([]types.SendMessageBatchRequestEntry, len(ds))
	for i, d := range ds {
		body, err := json.Marshal(d)
		if err != nil {
			return errors.Wrap(err, "marshal descriptor")
		}
		entries[i] = types.SendMessageBatchRequestEntry{
			Id:          stringPtr(strconv.Itoa(i)),
			MessageBody: stringPtr(string(body)),
		}
	}
	out, err := q.client.SendMessageBatch(ctx, &awssqs.SendMessageBatchInput{
		QueueUrl: &q.queueURL,
		Entries:  entries,
	})
	if err != nil {
		return errors.Wrap(err, "sqs send message batch")
	}
	if len(out.Failed) > 0 {
		return errors.Errorf("sqs send message batch: %d of %d entries failed", len(out.Failed), len(ds))
	}
	return nil
}

// Receive implements queue.Queue.
func (q *Queue) Receive(ctx context.Context, max int) ([]queue.Message, error) {
	out, err := q.client.ReceiveMessage(ctx, &awssqs.ReceiveMessageInput{
		QueueUrl:            &q.queueURL,
		MaxNumberOfMessages: int32(max),
		VisibilityTimeout:   q.visibilityTimeout,
		WaitTimeSeconds:     q.waitTimeSeconds,
	})
	if err != nil {
		return nil, errors.Wrap(err, "sqs receive message")
	}

	messages := make([]queue.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		var d queue.Descriptor
		if err := json.Unmarshal([]byte(*m.Body), &d); err != nil {
			return nil, errors.Wrap(err, "unmarshal descriptor")
		}
		messages = append(messages, queue.Message{Descriptor: d, AckToken: *m.ReceiptHandle})
	}
	return messages, nil
}

// Ack implements queue.Queue.
func (q *Queue) Ack(ctx context.Context, m queue.Message) error {
	receiptHandle, ok := m.AckToken.(string)
	if !ok {
		return errors.Errorf("sqs: ack token %v is not a receipt handle", m.AckToken)
	}
	_, err := q.client.DeleteMessage(ctx, &awssqs.DeleteMessageInput{
		QueueUrl:      &q.queueURL,
		ReceiptHandle: &receiptHandle,
	})
	if err != nil {
		return errors.Wrap(err, "sqs delete message")
	}
	return nil
}

func stringPtr(s string) *string { return &s }
