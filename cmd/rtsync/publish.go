package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/realtime-sync/internal/model"
)

type publishOptions struct {
	eventType    string
	articleID    int64
	communityID  int64
	discussionID int64
	parentID     int64
	itemID       int64
	topic        string
	body         string
	authorID     int64
	authorName   string
}

func publishCmd() *cobra.Command {
	var opts publishOptions

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish an event through the dev server",
		Long: `Publish one event to every queue on the dev server. Only the dev
server accepts this; production backends emit events themselves.

Examples:
  rtsync publish --type new_discussion --article 5 --community 9 --id 42 --topic "Hello"
  rtsync publish --type new_comment --article 5 --community 9 --discussion 42 --id 7 --body "Hi"
  rtsync publish --type deleted_comment --article 5 --community 9 --discussion 42 --id 7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := buildEvent(opts)
			if err != nil {
				return err
			}
			if !cfg.API.Configured() || cfg.API.AccessToken == "" {
				return fmt.Errorf("api.base_url and an access token are required to publish")
			}

			payload, err := json.Marshal(ev)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			url := strings.TrimRight(cfg.API.BaseURL, "/") + "/realtime/events"
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+cfg.API.AccessToken)

			client := &http.Client{Timeout: 30 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("publishing event: %w", err)
			}
			defer resp.Body.Close()

			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusAccepted {
				return fmt.Errorf("publish failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			}

			logger.Info("event published", zap.Stringer("event", ev), zap.ByteString("response", bytes.TrimSpace(body)))
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.eventType, "type", "", "event type (required)")
	cmd.Flags().Int64Var(&opts.articleID, "article", 0, "article id")
	cmd.Flags().Int64Var(&opts.communityID, "community", 0, "community id")
	cmd.Flags().Int64Var(&opts.discussionID, "discussion", 0, "discussion id (comment events)")
	cmd.Flags().Int64Var(&opts.parentID, "parent", 0, "parent comment id (replies)")
	cmd.Flags().Int64Var(&opts.itemID, "id", 0, "discussion or comment id (required)")
	cmd.Flags().StringVar(&opts.topic, "topic", "", "discussion topic")
	cmd.Flags().StringVar(&opts.body, "body", "", "discussion or comment body")
	cmd.Flags().Int64Var(&opts.authorID, "author-id", 0, "author user id")
	cmd.Flags().StringVar(&opts.authorName, "author-name", "", "author display name")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

// buildEvent assembles the event payload. The dev server assigns event ids.
func buildEvent(opts publishOptions) (model.Event, error) {
	t := model.EventType(opts.eventType)
	if !t.Valid() {
		return model.Event{}, fmt.Errorf("unknown event type %q", opts.eventType)
	}
	if opts.itemID <= 0 {
		return model.Event{}, fmt.Errorf("--id must be positive")
	}

	ev := model.Event{
		Type:      t,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data: model.EventData{
			ArticleID:   opts.articleID,
			CommunityID: opts.communityID,
		},
	}

	var err error
	if t.IsDiscussion() {
		ev.Data.Discussion, err = json.Marshal(model.Discussion{
			ID:          opts.itemID,
			ArticleID:   opts.articleID,
			CommunityID: opts.communityID,
			Topic:       opts.topic,
			Body:        opts.body,
			AuthorID:    opts.authorID,
			AuthorName:  opts.authorName,
		})
		return ev, err
	}

	if opts.discussionID <= 0 {
		return model.Event{}, fmt.Errorf("--discussion is required for %s", t)
	}
	comment := model.Comment{
		ID:           opts.itemID,
		DiscussionID: opts.discussionID,
		AuthorID:     opts.authorID,
		AuthorName:   opts.authorName,
		Body:         opts.body,
	}
	ev.Data.DiscussionID = model.Int64(opts.discussionID)
	if opts.parentID > 0 {
		comment.ParentID = model.Int64(opts.parentID)
		ev.Data.ParentID = model.Int64(opts.parentID)
	}
	ev.Data.Comment, err = json.Marshal(comment)
	return ev, err
}
