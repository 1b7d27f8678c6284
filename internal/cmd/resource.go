package cmd

import (
	"context"

	"github.com/Iron-Ham/meilidash/internal/meili"
	"github.com/Iron-Ham/meilidash/internal/settingsync"
)

// indexSettings adapts the Meilisearch client to the workflow's resource
// interfaces. Targets are index UIDs.
type indexSettings struct {
	client *meili.Client
}

var (
	_ settingsync.Resource   = (*indexSettings)(nil)
	_ settingsync.TaskWaiter = (*indexSettings)(nil)
)

func (r *indexSettings) FetchConfig(ctx context.Context, index string) (settingsync.Config, error) {
	settings, err := r.client.GetSettings(ctx, index)
	if err != nil {
		return nil, err
	}
	return settingsync.FromJSON(settings), nil
}

func (r *indexSettings) UpdateConfig(ctx context.Context, index string, cfg settingsync.Config) (settingsync.TaskHandle, error) {
	info, err := r.client.UpdateSettings(ctx, index, cfg)
	if err != nil {
		return settingsync.TaskHandle{}, err
	}
	return taskHandle(info), nil
}

func (r *indexSettings) WaitTask(ctx context.Context, task settingsync.TaskHandle) error {
	_, err := r.client.WaitForTask(ctx, task.UID)
	return err
}

func taskHandle(info meili.TaskInfo) settingsync.TaskHandle {
	return settingsync.TaskHandle{
		UID:        info.TaskUID,
		IndexUID:   info.IndexUID,
		Status:     info.Status,
		Type:       info.Type,
		EnqueuedAt: info.EnqueuedAt,
	}
}
