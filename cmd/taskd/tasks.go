package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/samridh-111/backend-interview-challenge/internal/schema"
	"github.com/samridh-111/backend-interview-challenge/internal/tasks"
	"github.com/samridh-111/backend-interview-challenge/internal/ui"
)

var tasksCmd = &cobra.Command{
	Use:     "tasks",
	GroupID: "tasks",
	Short:   "Create, edit and inspect local tasks",
	Long: `Manage tasks in the local store.

Every change is queued for the next sync; nothing here needs the authority
to be reachable.`,
}

var tasksAddCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Create a task",
	Long: `Create a task. With no title on a terminal, prompts for one.

Example usage:
  taskd tasks add "Write release notes"
  taskd tasks add "Fix login" --description "Safari only"
  taskd tasks add                # interactive`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")
		jsonOut, _ := cmd.Flags().GetBool("json")

		var title string
		if len(args) == 1 {
			title = args[0]
		} else {
			if !ui.IsTerminal(os.Stdin) {
				return errors.New("a title is required")
			}
			if err := promptTask(&title, &description); err != nil {
				return err
			}
		}

		e, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		task, err := e.tasks.Create(cmd.Context(), title, description)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(cmd.OutOrStdout(), task)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Created %s %s\n", ui.RenderPass("✓"), ui.RenderAccent(task.ID), task.Title)
		return nil
	},
}

// promptTask asks for a title and description.
func promptTask(title, description *string) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Title").
				Value(title).
				Validate(schema.ValidateTitle),
			huh.NewText().
				Title("Description").
				Value(description),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("prompt cancelled: %w", err)
	}
	return nil
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		statusFilter, _ := cmd.Flags().GetString("status")
		if statusFilter != "" && !schema.SyncStatus(statusFilter).Valid() {
			return fmt.Errorf("invalid --status %q (use pending, synced or error)", statusFilter)
		}

		e, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		list, err := e.tasks.List(cmd.Context())
		if err != nil {
			return err
		}
		if statusFilter != "" {
			kept := list[:0]
			for _, t := range list {
				if string(t.SyncStatus) == statusFilter {
					kept = append(kept, t)
				}
			}
			list = kept
		}

		if jsonOut {
			if list == nil {
				list = []*schema.Task{}
			}
			return printJSON(cmd.OutOrStdout(), list)
		}
		printTasks(cmd.OutOrStdout(), list)
		return nil
	},
}

func printTasks(w io.Writer, list []*schema.Task) {
	if len(list) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("No tasks"))
		return
	}
	for _, t := range list {
		box := "[ ]"
		if t.Completed {
			box = "[x]"
		}
		fmt.Fprintf(w, "%s %s  %s  %s\n", box, ui.RenderAccent(t.ID), t.Title, ui.RenderSyncStatus(t.SyncStatus))
	}
	fmt.Fprintf(w, "\n%d task(s)\n", len(list))
}

func printTask(w io.Writer, t *schema.Task) {
	fmt.Fprintf(w, "\n%s %s\n", ui.RenderAccent(t.ID), ui.RenderBold(t.Title))
	if t.Description != "" {
		fmt.Fprintf(w, "   %s\n", t.Description)
	}
	fmt.Fprintf(w, "   Completed: %t\n", t.Completed)
	fmt.Fprintf(w, "   Sync: %s\n", ui.RenderSyncStatus(t.SyncStatus))
	if t.ServerID != nil {
		fmt.Fprintf(w, "   Server ID: %s\n", *t.ServerID)
	}
	fmt.Fprintf(w, "   Created: %s\n", t.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "   Updated: %s\n", t.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	if t.LastSyncedAt != nil {
		fmt.Fprintf(w, "   Last synced: %s\n", t.LastSyncedAt.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintln(w)
}

var tasksGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")

		e, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		task, err := e.tasks.Get(cmd.Context(), args[0])
		if err != nil {
			return taskError(args[0], err)
		}
		if jsonOut {
			return printJSON(cmd.OutOrStdout(), task)
		}
		printTask(cmd.OutOrStdout(), task)
		return nil
	},
}

var tasksUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change a task's title, description or completion",
	Long: `Change fields of a task. Only the flags given are changed.

Example usage:
  taskd tasks update 3f1c... --completed
  taskd tasks update 3f1c... --title "New title" --description ""`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")

		var patch schema.TaskPatch
		if cmd.Flags().Changed("title") {
			v, _ := cmd.Flags().GetString("title")
			patch.Title = &v
		}
		if cmd.Flags().Changed("description") {
			v, _ := cmd.Flags().GetString("description")
			patch.Description = &v
		}
		if cmd.Flags().Changed("completed") {
			v, _ := cmd.Flags().GetBool("completed")
			patch.Completed = &v
		}
		if patch.Empty() {
			return errors.New("nothing to update (use --title, --description or --completed)")
		}

		e, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		task, err := e.tasks.Update(cmd.Context(), args[0], patch)
		if err != nil {
			return taskError(args[0], err)
		}
		if jsonOut {
			return printJSON(cmd.OutOrStdout(), task)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Updated %s\n", ui.RenderPass("✓"), ui.RenderAccent(task.ID))
		return nil
	},
}

var tasksDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		ok, err := e.tasks.Delete(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			return taskError(args[0], tasks.ErrNotFound)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %s\n", ui.RenderPass("✓"), ui.RenderAccent(args[0]))
		return nil
	},
}

var tasksRequeueCmd = &cobra.Command{
	Use:   "requeue <id>",
	Short: "Retry syncing a task that is in error",
	Long: `Move a task out of the error state so the next sync submits its queued
changes again. Retry counts are kept, so one more transport failure marks
it as error again. Only tasks in the error state can be requeued.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		ok, err := e.tasks.Requeue(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("task %s is not in the error state", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Requeued %s\n", ui.RenderPass("✓"), ui.RenderAccent(args[0]))
		return nil
	},
}

func taskError(id string, err error) error {
	if errors.Is(err, tasks.ErrNotFound) {
		return fmt.Errorf("task %s not found", id)
	}
	return err
}

func init() {
	tasksAddCmd.Flags().StringP("description", "d", "", "Task description")
	tasksAddCmd.Flags().Bool("json", false, "Print the created task as JSON")

	tasksListCmd.Flags().String("status", "", "Only tasks with this sync status (pending, synced, error)")
	tasksListCmd.Flags().Bool("json", false, "Print tasks as JSON")

	tasksGetCmd.Flags().Bool("json", false, "Print the task as JSON")

	tasksUpdateCmd.Flags().String("title", "", "New title")
	tasksUpdateCmd.Flags().StringP("description", "d", "", "New description")
	tasksUpdateCmd.Flags().Bool("completed", false, "Mark completed (--completed=false to reopen)")
	tasksUpdateCmd.Flags().Bool("json", false, "Print the updated task as JSON")

	tasksCmd.AddCommand(tasksAddCmd, tasksListCmd, tasksGetCmd, tasksUpdateCmd, tasksDeleteCmd, tasksRequeueCmd)
	rootCmd.AddCommand(tasksCmd)
}
