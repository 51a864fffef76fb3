package chat

import (
	"context"
	"encoding/json"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/wwetzel/maven-demo-day/pkg/adapter"
	"github.com/wwetzel/maven-demo-day/pkg/model"
)

const historyPrefix = "histories/"

func historyKey(id model.SessionID) string {
	return historyPrefix + string(id) + ".json"
}

// saveHistory writes the transcript of a session to storage
func saveHistory(ctx context.Context, storage adapter.Storage, history *model.History) error {
	writer, err := storage.Put(ctx, historyKey(history.ID))
	if err != nil {
		return goerr.Wrap(err, "failed to create storage writer", goerr.V("id", history.ID))
	}

	data, err := json.Marshal(history)
	if err != nil {
		writer.Close()
		return goerr.Wrap(err, "failed to marshal history")
	}

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return goerr.Wrap(err, "failed to write history to storage")
	}

	if err := writer.Close(); err != nil {
		return goerr.Wrap(err, "failed to close storage writer")
	}
	return nil
}

// LoadHistory reads a saved transcript
func LoadHistory(ctx context.Context, storage adapter.Storage, id model.SessionID) (*model.History, error) {
	reader, err := storage.Get(ctx, historyKey(id))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get history from storage", goerr.V("id", id))
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read history data")
	}

	var history model.History
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal history", goerr.V("id", id))
	}
	return &history, nil
}

// ListHistories returns the IDs of saved transcripts
func ListHistories(ctx context.Context, storage adapter.Storage) ([]model.SessionID, error) {
	keys, err := storage.List(ctx, historyPrefix)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list histories")
	}

	ids := make([]model.SessionID, 0, len(keys))
	for _, key := range keys {
		name := path.Base(key)
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, model.SessionID(strings.TrimSuffix(name, ".json")))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
