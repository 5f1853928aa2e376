package domain

import "context"

type RecordingRepository interface {
	Insert(ctx context.Context, r Recording) error
	ListSortedBySavedAt(ctx context.Context) ([]Recording, error)
	Get(ctx context.Context, id string) (Recording, error)
	Delete(ctx context.Context, id string) error
}
