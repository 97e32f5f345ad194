package main

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"resume-ingest/internal/queue"
	"resume-ingest/internal/workerproc"
)

type fakeSQS struct {
	deleted []string
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

type fakeRunner struct {
	err  error
	runs []string
}

func (f *fakeRunner) RunBatch(ctx context.Context, msg queue.Message) error {
	f.runs = append(f.runs, msg.BatchID)
	return f.err
}

func batchBody(t *testing.T, batchID string) string {
	t.Helper()
	raw, err := queue.EncodeMessage(queue.Message{
		BatchID: batchID, UserID: "user-1", RequestID: "req-1", Version: queue.MessageVersion,
		Files: []queue.FileRef{{ID: "f1", Name: "cv.pdf", MimeType: "application/pdf", StorageKey: batchID + "/cv.pdf"}},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return string(raw)
}

func TestWorkerDeletesMessageOnSuccess(t *testing.T) {
	client := &fakeSQS{}
	runner := &fakeRunner{}
	msg := sqstypes.Message{
		MessageId:     aws.String("m1"),
		ReceiptHandle: aws.String("r1"),
		Body:          aws.String(batchBody(t, "batch-1")),
		Attributes:    map[string]string{"ApproximateReceiveCount": "1"},
	}

	handleMessage(context.Background(), client, "queue", runner, msg)

	if len(runner.runs) != 1 || runner.runs[0] != "batch-1" {
		t.Fatalf("expected batch-1 to run, got %v", runner.runs)
	}
	if len(client.deleted) != 1 {
		t.Fatalf("expected delete, got %d", len(client.deleted))
	}
}

func TestWorkerKeepsMessageWhenBatchCannotRun(t *testing.T) {
	client := &fakeSQS{}
	runner := &fakeRunner{err: workerproc.ErrProcess{BatchID: "batch-2", Err: errors.New("credentials down")}}
	msg := sqstypes.Message{
		MessageId:     aws.String("m2"),
		ReceiptHandle: aws.String("r2"),
		Body:          aws.String(batchBody(t, "batch-2")),
	}

	handleMessage(context.Background(), client, "queue", runner, msg)

	if len(client.deleted) != 0 {
		t.Fatalf("expected no delete, got %d", len(client.deleted))
	}
}

func TestWorkerDropsUnparseableMessages(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: "{bad-json"},
		{name: "empty", body: ""},
		{name: "no files", body: `{"batchId":"b","userId":"u","files":[],"version":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeSQS{}
			runner := &fakeRunner{}
			msg := sqstypes.Message{
				MessageId:     aws.String("m3"),
				ReceiptHandle: aws.String("r3"),
				Body:          aws.String(tt.body),
			}

			handleMessage(context.Background(), client, "queue", runner, msg)

			if len(runner.runs) != 0 {
				t.Fatalf("expected no run, got %v", runner.runs)
			}
			if len(client.deleted) != 1 {
				t.Fatalf("expected delete, got %d", len(client.deleted))
			}
		})
	}
}

func TestReceiveCount(t *testing.T) {
	if got := receiveCount(sqstypes.Message{Attributes: map[string]string{"ApproximateReceiveCount": "3"}}); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	if got := receiveCount(sqstypes.Message{}); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}
