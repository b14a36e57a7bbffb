package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/campushub/campushub/config"
	"github.com/campushub/campushub/notify"
	"github.com/campushub/campushub/tasks"
	"github.com/campushub/campushub/types"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
)

var emitFlags struct {
	user    string
	kind    string
	title   string
	message string
	data    string
	delay   time.Duration
}

var emitCmd = &cobra.Command{
	Use:   "emit",
	Short: "Enqueue a notification for a user",
	Long: `Enqueues a notification:emit task; a running worker stores it and pushes it
to the user if they are connected.

Example:
  campushub emit --user 0191c8a4-... --type STREAK_MILESTONE \
    --title "7 day streak" --data '{"days":7}'`,
	RunE: runEmit,
}

func init() {
	f := emitCmd.Flags()
	f.StringVarP(&emitFlags.user, "user", "u", "", "recipient user id (required)")
	f.StringVarP(&emitFlags.kind, "type", "t", string(types.NotificationTypeGeneric), "notification type")
	f.StringVar(&emitFlags.title, "title", "", "notification title (required)")
	f.StringVarP(&emitFlags.message, "message", "m", "", "notification body")
	f.StringVar(&emitFlags.data, "data", "", "JSON object of structured data")
	f.DurationVar(&emitFlags.delay, "delay", 0, "process the task after this delay")
	_ = emitCmd.MarkFlagRequired("user")
	_ = emitCmd.MarkFlagRequired("title")
}

func runEmit(cmd *cobra.Command, args []string) error {
	req, err := parseEmitFlags()
	if err != nil {
		return err
	}

	cfg := config.Get()
	client := tasks.NewClient(asynqRedisOpt(cfg))
	defer client.Close()

	var opts []asynq.Option
	if emitFlags.delay > 0 {
		opts = append(opts, asynq.ProcessIn(emitFlags.delay))
	}

	info, err := client.EnqueueEmit(cmd.Context(), req, opts...)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s (task %s, queue %s)\n", req.Type, info.ID, info.Queue)
	return nil
}

func parseEmitFlags() (notify.EmitRequest, error) {
	userID, err := uuid.Parse(emitFlags.user)
	if err != nil {
		return notify.EmitRequest{}, fmt.Errorf("invalid --user: %w", err)
	}
	kind, err := types.ParseNotificationType(strings.ToUpper(emitFlags.kind))
	if err != nil {
		return notify.EmitRequest{}, err
	}

	req := notify.EmitRequest{
		UserID:  userID,
		Type:    kind,
		Title:   emitFlags.title,
		Message: emitFlags.message,
	}
	if emitFlags.data != "" {
		if err := json.Unmarshal([]byte(emitFlags.data), &req.Data); err != nil {
			return notify.EmitRequest{}, fmt.Errorf("invalid --data: %w", err)
		}
	}
	return req, nil
}
