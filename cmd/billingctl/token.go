package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/reelhouse/reelhouse/internal/pkg/env"
	"github.com/reelhouse/reelhouse/internal/pkg/security"
)

var tokenTTL time.Duration

var taskTokenCmd = &cobra.Command{
	Use:       "task-token <task>",
	Short:     "Issue a signed credential for a scheduled-task trigger",
	Long:      `Issue a signed token accepted by the cron endpoints. The token is bound to one task and signed with TASK_TOKEN_SECRET.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{security.TaskReconcileSubscriptions, security.TaskCleanupCheckouts},
	RunE: func(cmd *cobra.Command, args []string) error {
		env.SetupEnvFile()
		return issueTaskToken(cmd, args[0], env.GetEnv("TASK_TOKEN_SECRET", ""))
	},
}

func init() {
	taskTokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}

func issueTaskToken(cmd *cobra.Command, task, secret string) error {
	if strings.TrimSpace(secret) == "" {
		return errors.New("TASK_TOKEN_SECRET is not set")
	}
	switch task {
	case security.TaskReconcileSubscriptions, security.TaskCleanupCheckouts:
	default:
		return fmt.Errorf("unknown task %q", task)
	}
	token, err := security.GenerateTaskToken(task, tokenTTL, secret)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
